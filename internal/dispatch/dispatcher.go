// Package dispatch routes every inbound frame body to its side effects:
// the forced-logout coordinator, the recent-events feed, the session store,
// and the renderer or generic-notice presentation path.
package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/openmall/realtime/internal/event"
	"github.com/openmall/realtime/internal/registry"
	"github.com/openmall/realtime/internal/session"
	"github.com/openmall/realtime/internal/ui"
)

// LogoutHandler receives the reserved FORCE_LOGOUT events. Implemented by
// the logout coordinator.
type LogoutHandler interface {
	HandleForcedLogout(ev *event.Event)
}

// Dispatcher is the type router. One instance serves all topics; the source
// label passed to Dispatch is diagnostic only and never affects routing.
type Dispatcher struct {
	log       *zerolog.Logger
	store     *session.Store
	feed      *Feed
	signal    *CountSignal
	reg       *registry.Registry
	clicks    *registry.ClickHandler
	logout    LogoutHandler
	notifier  ui.Notifier
	formatter FallbackFormatter
}

// New wires a dispatcher. notifier may be nil when the host has no transient
// notice surface; formatter nil means the default rules.
func New(logger *zerolog.Logger, store *session.Store, feed *Feed, signal *CountSignal, reg *registry.Registry, clicks *registry.ClickHandler, logoutHandler LogoutHandler, notifier ui.Notifier, formatter FallbackFormatter) *Dispatcher {
	if formatter == nil {
		formatter = DefaultFormatter{}
	}
	return &Dispatcher{
		log:       logger,
		store:     store,
		feed:      feed,
		signal:    signal,
		reg:       reg,
		clicks:    clicks,
		logout:    logoutHandler,
		notifier:  notifier,
		formatter: formatter,
	}
}

// Feed exposes the recent-events feed for hosts.
func (d *Dispatcher) Feed() *Feed { return d.feed }

// Signal exposes the count-changed signal for hosts.
func (d *Dispatcher) Signal() *CountSignal { return d.signal }

// Dispatch processes one raw frame body. The order-sensitive effects, namely
// the forced-logout short circuit and session store merges, complete before
// it returns; a malformed body is logged and dropped without touching anything.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, source string) {
	ev, err := event.Decode(raw)
	if err != nil {
		d.log.Warn().Err(err).Str("source", source).Msg("dropping unparseable event")
		return
	}

	// The single-active-session signal bypasses everything else: no feed
	// entry, no badge delta, no rendering.
	if ev.Type == event.TypeForceLogout {
		if d.logout != nil {
			d.logout.HandleForcedLogout(ev)
		}
		return
	}

	d.feed.Push(ev)
	d.signal.Emit(+1)

	if ev.IsCompound() {
		if ev.UpdatedSession != nil {
			d.store.Upsert(*ev.UpdatedSession)
		}
		// When the user is looking at this conversation right now, zero
		// their counter optimistically and tell the server.
		d.store.AckActive(ev.Message.SessionID)
	}

	d.present(ctx, ev, source)
}

func (d *Dispatcher) present(ctx context.Context, ev *event.Event, source string) {
	renderer, err := d.reg.Resolve(ctx, ev.Type)
	if err != nil {
		d.log.Warn().Err(err).Str("type", ev.Type).Msg("renderer resolve failed")
		renderer = nil
	}

	if renderer != nil {
		open := registry.OpenFunc(func(context.Context, bool) {})
		if d.clicks != nil {
			open = d.clicks.OpenFunc(ev)
		}
		if err := renderer.Render(ctx, ev, open); err != nil {
			d.log.Warn().Err(err).Str("type", ev.Type).Str("source", source).Msg("renderer failed")
		}
		return
	}

	if d.notifier != nil {
		d.notifier.Notify(d.formatter.Title(ev), d.formatter.Message(ev))
	}
}
