package stomp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openmall/realtime/internal/log"
	"github.com/openmall/realtime/internal/transport"
)

// fakeTransport is a scripted in-memory transport. The test feeds inbound
// messages through push and inspects outbound writes through sent.
type fakeTransport struct {
	in   chan []byte
	done chan struct{}

	mu   sync.Mutex
	sent [][]byte

	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.done:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteMessage(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) push(frame *Frame) {
	f.in <- frame.Marshal()
}

func (f *fakeTransport) sentFrames(t *testing.T) []*Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := make([]*Frame, 0, len(f.sent))
	for _, raw := range f.sent {
		frame, err := Parse(raw)
		if err != nil {
			t.Fatalf("sent frame unparseable: %v", err)
		}
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

func connectedFrame() *Frame {
	frame := NewFrame(CmdConnected)
	frame.Headers[HdrVersion] = "1.2"
	frame.Headers[HdrHeartBeat] = "0,0"
	return frame
}

func newTestClient(t *testing.T, tr transport.Transport, cb Callbacks) *Client {
	t.Helper()
	logger := log.NewWithWriter("error", testWriter{t})
	return NewClient(tr, logger, 0, cb)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestConnectHandshake(t *testing.T) {
	tr := newFakeTransport()
	tr.push(connectedFrame())

	var onConnected *Frame
	client := newTestClient(t, tr, Callbacks{
		OnConnected: func(frame *Frame) { onConnected = frame },
	})
	defer client.Close()

	if err := client.Connect(context.Background(), map[string]string{HdrToken: "tok"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if onConnected == nil {
		t.Fatal("OnConnected not fired")
	}
	if !client.Connected() {
		t.Fatal("client should report connected")
	}

	frames := tr.sentFrames(t)
	if len(frames) != 1 || frames[0].Command != CmdConnect {
		t.Fatalf("expected one CONNECT frame, got %+v", frames)
	}
	if frames[0].Header(HdrToken) != "tok" {
		t.Fatalf("token header = %q", frames[0].Header(HdrToken))
	}
	if frames[0].Header(HdrAcceptVersion) != "1.2" {
		t.Fatalf("accept-version = %q", frames[0].Header(HdrAcceptVersion))
	}
}

func TestConnectRejected(t *testing.T) {
	tr := newFakeTransport()
	errFrame := NewFrame(CmdError)
	errFrame.Headers[HdrMessage] = "bad credentials"
	tr.push(errFrame)

	client := newTestClient(t, tr, Callbacks{})
	if err := client.Connect(context.Background(), nil); err == nil {
		t.Fatal("expected handshake error")
	}
	if client.Connected() {
		t.Fatal("client must not report connected")
	}
}

func TestPublishBeforeConnectReturnsFalse(t *testing.T) {
	tr := newFakeTransport()
	client := newTestClient(t, tr, Callbacks{})

	if client.Publish("/app/chat.send", []byte("{}")) {
		t.Fatal("publish before connect must return false")
	}
	if _, ok := client.Subscribe("/topic/x", func(*Frame) {}); ok {
		t.Fatal("subscribe before connect must return false")
	}
	if len(tr.sentFrames(t)) != 0 {
		t.Fatal("nothing should have been written")
	}
}

func TestMessagesDeliveredInOrder(t *testing.T) {
	tr := newFakeTransport()
	tr.push(connectedFrame())

	client := newTestClient(t, tr, Callbacks{})
	defer client.Close()
	if err := client.Connect(context.Background(), nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	got := make(chan string, 10)
	id, ok := client.Subscribe("/topic/orders", func(frame *Frame) {
		got <- string(frame.Body)
	})
	if !ok {
		t.Fatal("subscribe failed")
	}

	for _, body := range []string{"one", "two", "three"} {
		msg := NewFrame(CmdMessage)
		msg.Headers[HdrSubscription] = id
		msg.Headers[HdrDestination] = "/topic/orders"
		msg.Body = []byte(body)
		tr.push(msg)
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case body := <-got:
			if body != want {
				t.Fatalf("out of order: got %q want %q", body, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

// flushTransport answers every SUBSCRIBE with an immediate MESSAGE for the
// subscribed destination, before the write even returns, the way a queue
// flushes pending messages the instant a subscription lands.
type flushTransport struct {
	*fakeTransport
	body []byte
}

func (f *flushTransport) WriteMessage(ctx context.Context, data []byte) error {
	if err := f.fakeTransport.WriteMessage(ctx, data); err != nil {
		return err
	}
	frame, err := Parse(data)
	if err != nil || frame == nil || frame.Command != CmdSubscribe {
		return nil
	}
	msg := NewFrame(CmdMessage)
	msg.Headers[HdrSubscription] = frame.Header(HdrID)
	msg.Headers[HdrDestination] = frame.Header(HdrDestination)
	msg.Body = f.body
	f.push(msg)
	// Let the read loop pick the flushed message up before Subscribe returns.
	time.Sleep(50 * time.Millisecond)
	return nil
}

func TestSubscribeRoutesImmediatelyFlushedMessage(t *testing.T) {
	tr := &flushTransport{fakeTransport: newFakeTransport(), body: []byte("pending")}
	tr.push(connectedFrame())

	client := newTestClient(t, tr, Callbacks{})
	defer client.Close()
	if err := client.Connect(context.Background(), nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	got := make(chan []byte, 1)
	if _, ok := client.Subscribe("/user/queue/notifications", func(frame *Frame) {
		got <- frame.Body
	}); !ok {
		t.Fatal("subscribe failed")
	}

	select {
	case body := <-got:
		if string(body) != "pending" {
			t.Fatalf("body = %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message flushed at subscription time was dropped")
	}
}

func TestRouteByDestinationFallback(t *testing.T) {
	tr := newFakeTransport()
	tr.push(connectedFrame())

	client := newTestClient(t, tr, Callbacks{})
	defer client.Close()
	if err := client.Connect(context.Background(), nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	got := make(chan []byte, 1)
	if _, ok := client.Subscribe("/user/queue/notifications", func(frame *Frame) {
		got <- frame.Body
	}); !ok {
		t.Fatal("subscribe failed")
	}

	// No subscription header; destination alone should route it.
	msg := NewFrame(CmdMessage)
	msg.Headers[HdrDestination] = "/user/queue/notifications"
	msg.Body = []byte("hello")
	tr.push(msg)

	select {
	case body := <-got:
		if string(body) != "hello" {
			t.Fatalf("body = %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not routed by destination")
	}
}

func TestOnCloseFiresOnceOnTransportError(t *testing.T) {
	tr := newFakeTransport()
	tr.push(connectedFrame())

	closed := make(chan error, 2)
	client := newTestClient(t, tr, Callbacks{
		OnClose: func(err error) { closed <- err },
	})
	if err := client.Connect(context.Background(), nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	tr.Close() // transport drops

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not fired")
	}

	client.Close() // must not fire OnClose again
	select {
	case <-closed:
		t.Fatal("OnClose fired twice")
	case <-time.After(100 * time.Millisecond):
	}

	if client.Publish("/app/x", nil) {
		t.Fatal("publish after close must return false")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	tr := newFakeTransport()
	tr.push(connectedFrame())

	client := newTestClient(t, tr, Callbacks{})
	defer client.Close()
	if err := client.Connect(context.Background(), nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	got := make(chan struct{}, 1)
	id, _ := client.Subscribe("/topic/x", func(*Frame) { got <- struct{}{} })
	client.Unsubscribe(id)

	msg := NewFrame(CmdMessage)
	msg.Headers[HdrSubscription] = id
	msg.Headers[HdrDestination] = "/topic/x"
	tr.push(msg)

	select {
	case <-got:
		t.Fatal("handler invoked after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}
