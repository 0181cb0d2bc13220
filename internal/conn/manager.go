// Package conn owns the lifecycle of the single upstream connection:
// activation, the reconnect loop, auth injection at handshake time, and the
// fixed topic subscriptions.
package conn

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openmall/realtime/internal/auth"
	"github.com/openmall/realtime/internal/config"
	"github.com/openmall/realtime/internal/stomp"
	"github.com/openmall/realtime/internal/transport"
)

const dialTimeout = 30 * time.Second

// StateListener observes connection-state transitions.
type StateListener func(state State)

// Manager brings the frame protocol client up, keeps it up, and exposes the
// connection state. Desired state is set by Activate/Deactivate; everything
// else follows from it.
type Manager struct {
	log       *zerolog.Logger
	cfg       config.Config
	creds     auth.CredentialStore
	factories map[string]transport.Factory
	mux       *Multiplexer

	// onConnected hooks run after the handshake and topic subscriptions,
	// e.g. re-arming the forced-logout coordinator.
	onConnected []func()

	mu        sync.Mutex
	active    bool
	state     State
	client    *stomp.Client
	reconnect *time.Timer
	listeners map[string]StateListener
	genTag    uint64 // increments on every activate/deactivate, stale attempts abort

	// pending/notifying serialize state-listener delivery: transitions are
	// fanned out one at a time, in the order they happened.
	pending   []stateNotice
	notifying bool
}

type stateNotice struct {
	state State
	fns   []StateListener
}

// NewManager builds a manager. factories nil means the built-in transports.
func NewManager(cfg config.Config, logger *zerolog.Logger, creds auth.CredentialStore, mux *Multiplexer, factories map[string]transport.Factory) *Manager {
	if factories == nil {
		factories = transport.DefaultFactories()
	}
	return &Manager{
		log:       logger,
		cfg:       cfg,
		creds:     creds,
		factories: factories,
		mux:       mux,
		state:     StateDisconnected,
		listeners: make(map[string]StateListener),
	}
}

// OnConnected registers a hook invoked after every successful handshake.
func (m *Manager) OnConnected(fn func()) {
	if fn != nil {
		m.onConnected = append(m.onConnected, fn)
	}
}

// Activate brings the connection up. Idempotent: calling it while connected
// or connecting is a no-op.
func (m *Manager) Activate() {
	m.mu.Lock()
	if m.active && (m.state == StateConnected || m.state == StateConnecting) {
		m.mu.Unlock()
		return
	}
	m.active = true
	// A reconnect timer may already have fired and be waiting on the lock;
	// bumping the generation makes that attempt abort at its tag check.
	m.genTag++
	m.stopReconnectLocked()
	tag := m.genTag
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	go m.connect(tag)
}

// Deactivate tears the connection down and cancels any pending reconnect.
// Safe to call when never activated.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	m.active = false
	m.genTag++
	m.stopReconnectLocked()
	client := m.client
	m.client = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

// Reinitialize performs deactivate followed by activate with the last-known
// configuration. Used when credentials change, e.g. after login.
func (m *Manager) Reinitialize() {
	m.Deactivate()
	m.Activate()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AddStateListener registers a listener under a key; re-adding the same key
// replaces the previous function.
func (m *Manager) AddStateListener(key string, fn StateListener) {
	if key == "" || fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners[key] = fn
	m.mu.Unlock()
}

// RemoveStateListener drops a listener.
func (m *Manager) RemoveStateListener(key string) {
	m.mu.Lock()
	delete(m.listeners, key)
	m.mu.Unlock()
}

// SendChat publishes a chat message. False when disconnected; no queueing.
func (m *Manager) SendChat(sessionID int64, content, messageType string) bool {
	body, err := json.Marshal(map[string]any{
		"sessionId":   sessionID,
		"content":     content,
		"messageType": messageType,
	})
	if err != nil {
		return false
	}
	return m.publish(m.cfg.Destinations.SendMessage, body)
}

// MarkRead publishes a mark-read action for a session. False when
// disconnected.
func (m *Manager) MarkRead(sessionID int64) bool {
	body, err := json.Marshal(map[string]any{"sessionId": sessionID})
	if err != nil {
		return false
	}
	return m.publish(m.cfg.Destinations.MarkRead, body)
}

func (m *Manager) publish(destination string, body []byte) bool {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return false
	}
	return client.Publish(destination, body)
}

// connect performs one connection attempt. tag guards against attempts that
// outlive a Deactivate.
func (m *Manager) connect(tag uint64) {
	if !m.stillWanted(tag) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	token := m.creds.Token()
	tr, err := transport.DialPreferred(ctx, m.handshakeURL(token), m.cfg.Transports, m.factories, m.log)
	if err != nil {
		m.log.Warn().Err(err).Msg("transport dial failed")
		m.connectionLost(tag)
		return
	}

	client := stomp.NewClient(tr, m.log, m.cfg.HeartbeatInterval, stomp.Callbacks{
		OnError: func(frame *stomp.Frame) {
			m.log.Error().Str("message", frame.Header(stomp.HdrMessage)).Msg("protocol error frame")
		},
		OnClose: func(err error) {
			if err != nil {
				m.log.Warn().Err(err).Msg("connection closed")
			}
			m.connectionLost(tag)
		},
	})

	headers := map[string]string{}
	if token != "" {
		// Redundant with the query parameter; some backends read the
		// CONNECT header instead of the handshake URL.
		headers[stomp.HdrToken] = token
	}

	if err := client.Connect(ctx, headers); err != nil {
		m.log.Warn().Err(err).Msg("handshake failed")
		_ = tr.Close()
		m.connectionLost(tag)
		return
	}

	m.mu.Lock()
	if !m.active || m.genTag != tag {
		m.mu.Unlock()
		client.Close()
		return
	}
	prev := m.client
	m.client = client
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	// Hooks first: the forced-logout grace window must open no later than
	// the subscriptions that can deliver into it.
	for _, fn := range m.onConnected {
		fn()
	}
	m.mux.Attach(context.Background(), client)
	m.log.Info().Msg("realtime connection established")
}

// connectionLost flips to Errored and schedules a reconnect after the fixed
// delay, unless Deactivate was called in the meantime.
func (m *Manager) connectionLost(tag uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active || m.genTag != tag {
		return
	}
	m.client = nil
	m.setStateLocked(StateErrored)
	m.stopReconnectLocked()
	m.reconnect = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		if !m.active || m.genTag != tag {
			m.mu.Unlock()
			return
		}
		m.setStateLocked(StateConnecting)
		m.mu.Unlock()
		m.connect(tag)
	})
}

func (m *Manager) stillWanted(tag uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && m.genTag == tag
}

// handshakeURL appends the credential as a query parameter when present; the
// transport-level handshake cannot carry custom headers. Without a token the
// handshake proceeds unauthenticated and the server decides.
func (m *Manager) handshakeURL(token string) string {
	base := strings.TrimSuffix(m.cfg.BaseURL, "/") + m.cfg.HandshakePath
	if token == "" {
		return base
	}
	return base + "?token=" + url.QueryEscape(token)
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) setStateLocked(state State) {
	if m.state == state {
		return
	}
	m.state = state
	fns := make([]StateListener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.pending = append(m.pending, stateNotice{state: state, fns: fns})
	if m.notifying {
		return
	}
	m.notifying = true
	go m.drainNotices()
}

// drainNotices delivers queued transitions one at a time so listeners see
// them in the order they happened.
func (m *Manager) drainNotices() {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.notifying = false
			m.mu.Unlock()
			return
		}
		notice := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		for _, fn := range notice.fns {
			fn(notice.state)
		}
	}
}
