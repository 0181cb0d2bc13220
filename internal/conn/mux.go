package conn

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/openmall/realtime/internal/config"
	"github.com/openmall/realtime/internal/stomp"
)

// DispatchFunc receives every inbound frame body. The source label names the
// subscription the frame arrived on; it is diagnostic only and must not
// influence routing.
type DispatchFunc func(ctx context.Context, raw []byte, source string)

// Source labels for the fixed topic set.
const (
	SourceUserQueue       = "user-queue"
	SourceRoleBroadcast   = "role-broadcast"
	SourceGeneral         = "general"
	SourceSessionWildcard = "session-wildcard"
)

// Multiplexer establishes the fixed topic set on a fresh connection and
// funnels every topic into the one dispatch function. It holds no state
// across connections: subscriptions are rebuilt from scratch on reconnect,
// so no stale handle can survive a disconnect.
type Multiplexer struct {
	log      *zerolog.Logger
	topics   config.Topics
	dispatch DispatchFunc
}

// NewMultiplexer builds a multiplexer over the configured topic set.
func NewMultiplexer(logger *zerolog.Logger, topics config.Topics, dispatch DispatchFunc) *Multiplexer {
	return &Multiplexer{log: logger, topics: topics, dispatch: dispatch}
}

// Attach subscribes the full topic set on a connected client. Failed
// subscriptions are logged; the rest still go through.
func (m *Multiplexer) Attach(ctx context.Context, client *stomp.Client) {
	m.subscribe(ctx, client, m.topics.UserQueue, SourceUserQueue)
	m.subscribe(ctx, client, m.topics.RoleBroadcast, SourceRoleBroadcast)
	m.subscribe(ctx, client, m.topics.GeneralBroadcast, SourceGeneral)
	m.subscribe(ctx, client, m.topics.SessionWildcard, SourceSessionWildcard)
}

func (m *Multiplexer) subscribe(ctx context.Context, client *stomp.Client, topic, source string) {
	if topic == "" {
		return
	}
	handler := func(frame *stomp.Frame) {
		m.dispatch(ctx, frame.Body, source)
	}
	if _, ok := client.Subscribe(topic, handler); !ok {
		m.log.Warn().Str("topic", topic).Str("source", source).Msg("subscribe failed")
		return
	}
	m.log.Debug().Str("topic", topic).Str("source", source).Msg("subscribed")
}
