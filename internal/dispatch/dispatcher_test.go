package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/openmall/realtime/internal/auth"
	"github.com/openmall/realtime/internal/event"
	"github.com/openmall/realtime/internal/log"
	"github.com/openmall/realtime/internal/registry"
	"github.com/openmall/realtime/internal/session"
)

type fakeLogout struct {
	mu     sync.Mutex
	events []*event.Event
}

func (f *fakeLogout) HandleForcedLogout(ev *event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeLogout) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (f *fakeNotifier) Notify(title, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, title+": "+message)
}

type fakeOutbound struct {
	mu        sync.Mutex
	markReads []int64
}

func (f *fakeOutbound) MarkRead(sessionID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReads = append(f.markReads, sessionID)
	return true
}

func (f *fakeOutbound) SendChat(int64, string, string) bool { return true }

type fakeRouter struct{ pushed []string }

func (f *fakeRouter) Push(path string) error { f.pushed = append(f.pushed, path); return nil }
func (f *fakeRouter) Reload(string)          {}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type fixture struct {
	dispatcher *Dispatcher
	store      *session.Store
	feed       *Feed
	signal     *CountSignal
	reg        *registry.Registry
	logout     *fakeLogout
	notifier   *fakeNotifier
	outbound   *fakeOutbound
	deltas     []int
}

func newFixture(t *testing.T, principal auth.Principal) *fixture {
	t.Helper()
	logger := log.NewWithWriter("error", discard{})

	f := &fixture{
		feed:     NewFeed(10),
		signal:   NewCountSignal(),
		reg:      registry.New(),
		logout:   &fakeLogout{},
		notifier: &fakeNotifier{},
		outbound: &fakeOutbound{},
	}
	f.store = session.NewStore(logger, func() auth.Principal { return principal })
	f.store.SetOutbound(f.outbound)
	f.signal.Add("test", func(delta int) { f.deltas = append(f.deltas, delta) })

	clicks := registry.NewClickHandler(logger, f.reg, nil, &fakeRouter{}, f.signal.Emit)
	f.dispatcher = New(logger, f.store, f.feed, f.signal, f.reg, clicks, f.logout, f.notifier, nil)
	return f
}

func (f *fixture) dispatch(raw string) {
	f.dispatcher.Dispatch(context.Background(), []byte(raw), "test")
}

func TestDispatchAppendsOnceAndSignalsOnce(t *testing.T) {
	f := newFixture(t, auth.Principal{UserID: 100})

	f.dispatch(`{"type":"ORDER_PAID","id":1,"payload":{"orderId":9}}`)

	if f.feed.Len() != 1 {
		t.Fatalf("feed len = %d, want exactly 1", f.feed.Len())
	}
	if len(f.deltas) != 1 || f.deltas[0] != 1 {
		t.Fatalf("deltas = %v, want exactly one +1", f.deltas)
	}
}

func TestDispatchNewestFirst(t *testing.T) {
	f := newFixture(t, auth.Principal{UserID: 100})

	f.dispatch(`{"type":"ORDER_PAID","id":1}`)
	f.dispatch(`{"type":"ORDER_SHIPPED","id":2}`)

	events := f.feed.Events()
	if events[0].ID != 2 || events[1].ID != 1 {
		t.Fatalf("feed not newest-first: %v, %v", events[0].ID, events[1].ID)
	}
}

func TestForceLogoutShortCircuits(t *testing.T) {
	f := newFixture(t, auth.Principal{UserID: 100})

	f.dispatch(`{"type":"FORCE_LOGOUT","payload":{"message":"superseded"}}`)

	if f.logout.count() != 1 {
		t.Fatalf("logout handler invoked %d times", f.logout.count())
	}
	if f.feed.Len() != 0 {
		t.Fatal("forced logout must not enter the feed")
	}
	if len(f.deltas) != 0 {
		t.Fatal("forced logout must not emit a count delta")
	}
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.notices) != 0 {
		t.Fatal("forced logout must not render")
	}
}

func TestMalformedBodyDropped(t *testing.T) {
	f := newFixture(t, auth.Principal{UserID: 100})

	f.dispatch(`{{{{not json`)
	if f.feed.Len() != 0 || len(f.deltas) != 0 {
		t.Fatal("malformed body must have no side effects")
	}

	// The next valid frame is unaffected.
	f.dispatch(`{"type":"ORDER_PAID","id":1}`)
	if f.feed.Len() != 1 {
		t.Fatal("valid frame after malformed one was not processed")
	}
}

func TestCompoundMergeWithActiveSessionOptimisticWins(t *testing.T) {
	// Principal is the customer on session 7, which is currently open.
	f := newFixture(t, auth.Principal{UserID: 100, Role: auth.RoleCustomer})
	active := session.Session{ID: 7, CustomerID: 100, MerchantID: 200}
	f.store.Upsert(active)
	f.store.SetActive(&active)
	f.outbound.mu.Lock()
	f.outbound.markReads = nil
	f.outbound.mu.Unlock()

	f.dispatch(`{
		"message": {"id":55,"sessionId":7,"senderId":200,"senderRole":"merchant","content":"hi"},
		"updatedSession": {"id":7,"customerId":100,"merchantId":200,"unreadCountCustomer":2,"unreadCountMerchant":3}
	}`)

	got, ok := f.store.Get(7)
	if !ok {
		t.Fatal("session missing after merge")
	}
	// The server said 2 unread for the customer, but the customer is looking
	// at the conversation: the optimistic zero wins.
	if got.UnreadCustomer != 0 {
		t.Fatalf("unreadCountCustomer = %d, want optimistic 0", got.UnreadCustomer)
	}
	if got.UnreadMerchant != 3 {
		t.Fatalf("unreadCountMerchant = %d, server value must survive", got.UnreadMerchant)
	}

	f.outbound.mu.Lock()
	markReads := append([]int64(nil), f.outbound.markReads...)
	f.outbound.mu.Unlock()
	if len(markReads) != 1 || markReads[0] != 7 {
		t.Fatalf("mark-read publishes = %v, want one for session 7", markReads)
	}
}

func TestCompoundMergeInactiveSessionKeepsServerCount(t *testing.T) {
	f := newFixture(t, auth.Principal{UserID: 100, Role: auth.RoleCustomer})

	f.dispatch(`{
		"message": {"id":55,"sessionId":9,"senderId":200,"content":"hi"},
		"updatedSession": {"id":9,"customerId":100,"merchantId":200,"unreadCountCustomer":4,"unreadCountMerchant":0}
	}`)

	got, _ := f.store.Get(9)
	if got.UnreadCustomer != 4 {
		t.Fatalf("unread = %d, server value must apply when not viewing", got.UnreadCustomer)
	}
	f.outbound.mu.Lock()
	defer f.outbound.mu.Unlock()
	if len(f.outbound.markReads) != 0 {
		t.Fatal("inactive session must not trigger mark-read")
	}
}

func TestRegisteredRendererUsed(t *testing.T) {
	f := newFixture(t, auth.Principal{UserID: 100})

	rendered := 0
	f.reg.RegisterRenderer(event.TypeOrderPaid, registry.RendererFunc(
		func(ctx context.Context, ev *event.Event, open registry.OpenFunc) error {
			rendered++
			return nil
		}))

	f.dispatch(`{"type":"ORDER_PAID","id":1,"payload":{"orderId":9}}`)

	if rendered != 1 {
		t.Fatalf("renderer invoked %d times", rendered)
	}
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.notices) != 0 {
		t.Fatal("fallback notice must not fire when a renderer exists")
	}
}

func TestFallbackFormatterForOrderEvents(t *testing.T) {
	f := newFixture(t, auth.Principal{UserID: 100})

	f.dispatch(`{"type":"UNREGISTERED","payload":{"orderId":42}}`)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.notices) != 1 {
		t.Fatalf("notices = %v", f.notifier.notices)
	}
	if f.notifier.notices[0] != "Order update: Order #42 has a new update." {
		t.Fatalf("notice = %q", f.notifier.notices[0])
	}
}

func TestFallbackFormatterGeneric(t *testing.T) {
	f := newFixture(t, auth.Principal{UserID: 100})

	f.dispatch(`{"type":"UNREGISTERED","payload":{}}`)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if f.notifier.notices[0] != "New message: You have a new message." {
		t.Fatalf("notice = %q", f.notifier.notices[0])
	}
}

func TestRendererErrorDoesNotStopPipeline(t *testing.T) {
	f := newFixture(t, auth.Principal{UserID: 100})

	f.reg.RegisterRenderer("BROKEN", registry.RendererFunc(
		func(context.Context, *event.Event, registry.OpenFunc) error {
			return context.DeadlineExceeded
		}))

	f.dispatch(`{"type":"BROKEN","id":1}`)
	f.dispatch(`{"type":"ORDER_PAID","id":2}`)

	if f.feed.Len() != 2 {
		t.Fatal("renderer error must not affect later frames")
	}
}
