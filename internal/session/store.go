// Package session holds the client-side view of chat conversations and their
// unread counters. The store is the only writer of its records; everything
// else sees snapshot copies.
package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/openmall/realtime/internal/auth"
)

// Session mirrors the backend's conversation record. Each session has a
// customer side and a merchant side, each with its own unread counter.
type Session struct {
	ID              int64  `json:"id"`
	CustomerID      int64  `json:"customerId"`
	MerchantID      int64  `json:"merchantId"`
	StoreID         int64  `json:"storeId"`
	StoreName       string `json:"storeName,omitempty"`
	CustomerName    string `json:"customerName,omitempty"`
	MerchantName    string `json:"merchantName,omitempty"`
	LastMessage     string `json:"lastMessage,omitempty"`
	LastMessageTime string `json:"lastMessageTime,omitempty"`
	UnreadCustomer  int    `json:"unreadCountCustomer"`
	UnreadMerchant  int    `json:"unreadCountMerchant"`
	Status          string `json:"status,omitempty"`
}

// UnreadFor returns the counter belonging to the principal's side of the
// session: the customer counter when the principal is the session's customer,
// the merchant counter when it is the merchant, 0 for a stranger.
func (s Session) UnreadFor(p auth.Principal) int {
	switch p.UserID {
	case s.CustomerID:
		return s.UnreadCustomer
	case s.MerchantID:
		return s.UnreadMerchant
	default:
		return 0
	}
}

// Outbound is the reverse path into the live connection. Implemented by the
// connection manager; both methods report false when disconnected.
type Outbound interface {
	SendChat(sessionID int64, content, messageType string) bool
	MarkRead(sessionID int64) bool
}

// Listener observes store changes. Registration is keyed so adding the same
// key twice stays a single registration.
type Listener func(sessions []Session, totalUnread int)

// Store is the mutation-guarded session collection.
type Store struct {
	log       *zerolog.Logger
	principal func() auth.Principal

	mu        sync.Mutex
	sessions  []Session
	activeID  int64
	outbound  Outbound
	listeners map[string]Listener
}

// NewStore builds an empty store. principal resolves the current viewer and
// may change between calls (re-login).
func NewStore(logger *zerolog.Logger, principal func() auth.Principal) *Store {
	return &Store{
		log:       logger,
		principal: principal,
		listeners: make(map[string]Listener),
	}
}

// SetOutbound installs the live-connection reverse path. Until it is set,
// mark-read and send actions report false.
func (s *Store) SetOutbound(o Outbound) {
	s.mu.Lock()
	s.outbound = o
	s.mu.Unlock()
}

// Upsert inserts a new session at the front or merges fields into the
// existing record with the same id.
func (s *Store) Upsert(incoming Session) {
	s.mu.Lock()
	if i := s.indexOf(incoming.ID); i >= 0 {
		s.sessions[i] = merge(s.sessions[i], incoming)
	} else {
		s.sessions = append([]Session{incoming}, s.sessions...)
	}
	// An update to the active session must not resurrect its unread count:
	// the viewer is looking at it right now.
	if s.activeID != 0 && s.activeID == incoming.ID {
		s.zeroViewerUnreadLocked(incoming.ID)
	}
	s.mu.Unlock()
	s.notify()
}

// Remove drops a session, e.g. after an archive action.
func (s *Store) Remove(id int64) {
	s.mu.Lock()
	if i := s.indexOf(id); i >= 0 {
		s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	}
	if s.activeID == id {
		s.activeID = 0
	}
	s.mu.Unlock()
	s.notify()
}

// SetActive marks a session as currently viewed. The viewer's unread counter
// for it is zeroed synchronously before the outbound mark-read goes out, so a
// read immediately after SetActive observes the optimistic value. Pass nil to
// clear the active session.
func (s *Store) SetActive(sess *Session) {
	s.mu.Lock()
	var outbound Outbound
	var id int64
	if sess == nil {
		s.activeID = 0
	} else {
		id = sess.ID
		s.activeID = id
		if s.indexOf(id) < 0 {
			s.sessions = append([]Session{*sess}, s.sessions...)
		}
		s.zeroViewerUnreadLocked(id)
		outbound = s.outbound
	}
	s.mu.Unlock()
	s.notify()

	if outbound != nil && id != 0 {
		if !outbound.MarkRead(id) {
			s.log.Debug().Int64("session_id", id).Msg("mark-read not sent, disconnected")
		}
	}
}

// AckActive applies the optimistic read for a newly pushed message on the
// currently viewed session: the viewer's counter is zeroed before the
// outbound mark-read goes out. No-op when the session is not active.
func (s *Store) AckActive(sessionID int64) bool {
	s.mu.Lock()
	if sessionID == 0 || s.activeID != sessionID {
		s.mu.Unlock()
		return false
	}
	s.zeroViewerUnreadLocked(sessionID)
	outbound := s.outbound
	s.mu.Unlock()
	s.notify()

	if outbound == nil {
		return false
	}
	return outbound.MarkRead(sessionID)
}

// ActiveID returns the currently viewed session id, 0 for none.
func (s *Store) ActiveID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Get returns a snapshot of one session.
func (s *Store) Get(id int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.sessions[i], true
	}
	return Session{}, false
}

// Sessions returns a most-recent-first snapshot of all sessions.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Session(nil), s.sessions...)
}

// TotalUnread recomputes the badge total from scratch on every call. Derived
// rather than incrementally tracked, so missed events cannot make it drift,
// and it can never go negative.
func (s *Store) TotalUnread() int {
	p := s.principal()
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, sess := range s.sessions {
		if n := sess.UnreadFor(p); n > 0 {
			total += n
		}
	}
	return total
}

// SendChat sends a chat message on a session over the live connection.
func (s *Store) SendChat(sessionID int64, content, messageType string) bool {
	s.mu.Lock()
	outbound := s.outbound
	s.mu.Unlock()
	if outbound == nil {
		return false
	}
	return outbound.SendChat(sessionID, content, messageType)
}

// AddListener registers a change listener under a key. Re-registering the
// same key replaces the previous function, keeping one registration.
func (s *Store) AddListener(key string, fn Listener) {
	if key == "" || fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners[key] = fn
	s.mu.Unlock()
}

// RemoveListener drops a listener. Unknown keys are a no-op.
func (s *Store) RemoveListener(key string) {
	s.mu.Lock()
	delete(s.listeners, key)
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	snapshot := append([]Session(nil), s.sessions...)
	s.mu.Unlock()

	total := s.TotalUnread()
	for _, fn := range fns {
		fn(snapshot, total)
	}
}

// zeroViewerUnreadLocked applies the optimistic read: the viewer's own
// counter goes to zero, the other side's is left alone.
func (s *Store) zeroViewerUnreadLocked(id int64) {
	i := s.indexOf(id)
	if i < 0 {
		return
	}
	p := s.principal()
	switch p.UserID {
	case s.sessions[i].CustomerID:
		s.sessions[i].UnreadCustomer = 0
	case s.sessions[i].MerchantID:
		s.sessions[i].UnreadMerchant = 0
	}
}

func (s *Store) indexOf(id int64) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// merge overlays non-zero incoming fields onto the existing record. Unread
// counters always take the incoming value: the server owns them.
func merge(existing, incoming Session) Session {
	out := existing
	if incoming.CustomerID != 0 {
		out.CustomerID = incoming.CustomerID
	}
	if incoming.MerchantID != 0 {
		out.MerchantID = incoming.MerchantID
	}
	if incoming.StoreID != 0 {
		out.StoreID = incoming.StoreID
	}
	if incoming.StoreName != "" {
		out.StoreName = incoming.StoreName
	}
	if incoming.CustomerName != "" {
		out.CustomerName = incoming.CustomerName
	}
	if incoming.MerchantName != "" {
		out.MerchantName = incoming.MerchantName
	}
	if incoming.LastMessage != "" {
		out.LastMessage = incoming.LastMessage
	}
	if incoming.LastMessageTime != "" {
		out.LastMessageTime = incoming.LastMessageTime
	}
	if incoming.Status != "" {
		out.Status = incoming.Status
	}
	out.UnreadCustomer = incoming.UnreadCustomer
	out.UnreadMerchant = incoming.UnreadMerchant
	return out
}
