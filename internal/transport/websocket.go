package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coder/websocket"
)

// WebSocketFactory dials the direct websocket transport.
type WebSocketFactory struct {
	// Options are passed through to the dialer. Nil is fine.
	Options *websocket.DialOptions
}

func (f *WebSocketFactory) Name() string { return NameWebSocket }

func (f *WebSocketFactory) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, toWSScheme(url), f.Options)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	// Frame bodies may exceed the 32KiB default.
	conn.SetReadLimit(1 << 20)
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (t *wsTransport) Name() string { return NameWebSocket }

func (t *wsTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		if t.isClosed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(ctx context.Context, data []byte) error {
	if t.isClosed() {
		return ErrClosed
	}
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close(websocket.StatusNormalClosure, "closing")
}

func (t *wsTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// toWSScheme rewrites http(s) handshake URLs to ws(s); the config holds the
// backend base as an http URL.
func toWSScheme(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	default:
		return url
	}
}
