// Package transport abstracts the bidirectional channel the frame protocol
// runs over. The concrete transport is picked at dial time from a fixed
// preference order, so the upper layers never know whether they are talking
// over a websocket or an HTTP fallback.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Transport names accepted in the dial preference order.
const (
	NameWebSocket     = "websocket"
	NameHTTPStreaming = "http-streaming"
	NameHTTPPolling   = "http-polling"
)

// ErrClosed is returned by reads and writes after Close.
var ErrClosed = errors.New("transport closed")

// Transport is one live bidirectional message channel to the backend.
// Messages are delivered whole and in order; a read error means the
// connection is gone and the transport must not be reused.
type Transport interface {
	Name() string
	// ReadMessage blocks until the next inbound message or a connection error.
	ReadMessage(ctx context.Context) ([]byte, error)
	// WriteMessage sends one outbound message.
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// Factory dials one kind of transport.
type Factory interface {
	Name() string
	Dial(ctx context.Context, url string) (Transport, error)
}

// DefaultFactories returns the built-in factories keyed by name.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		NameWebSocket:     &WebSocketFactory{},
		NameHTTPStreaming: &HTTPFactory{streaming: true},
		NameHTTPPolling:   &HTTPFactory{streaming: false},
	}
}

// DialPreferred walks the preference order and returns the first transport
// that comes up. Unknown names are skipped with a warning.
func DialPreferred(ctx context.Context, url string, order []string, factories map[string]Factory, logger *zerolog.Logger) (Transport, error) {
	var lastErr error
	for _, name := range order {
		factory, ok := factories[name]
		if !ok {
			if logger != nil {
				logger.Warn().Str("transport", name).Msg("unknown transport in preference order")
			}
			continue
		}
		t, err := factory.Dial(ctx, url)
		if err == nil {
			return t, nil
		}
		lastErr = err
		if logger != nil {
			logger.Debug().Err(err).Str("transport", name).Msg("transport dial failed, trying next")
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no usable transport in %v", order)
	}
	return nil, fmt.Errorf("dial %s: %w", url, lastErr)
}
