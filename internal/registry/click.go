package registry

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/openmall/realtime/internal/event"
	"github.com/openmall/realtime/internal/ui"
)

// NotificationsPath is the final navigation fallback.
const NotificationsPath = "/notifications"

// MarkReader acknowledges notifications server-side. Implemented by the REST
// collaborator client.
type MarkReader interface {
	MarkRead(ctx context.Context, ids []int64) error
}

// ClickHandler is the shared "open" behavior every rendered notification
// wires to. Resolution order: registered navigator, payload path resolution,
// the generic notifications view.
type ClickHandler struct {
	log    *zerolog.Logger
	reg    *Registry
	marker MarkReader
	router ui.Router
	badge  func(delta int)
}

// NewClickHandler builds the shared click handler. badge receives the
// count-changed delta after a successful mark-read; nil disables it.
func NewClickHandler(logger *zerolog.Logger, reg *Registry, marker MarkReader, router ui.Router, badge func(delta int)) *ClickHandler {
	return &ClickHandler{log: logger, reg: reg, marker: marker, router: router, badge: badge}
}

// Open handles a click on the given event. Every stage is best-effort: a
// failed mark-read still navigates, a failed navigator still falls through.
func (h *ClickHandler) Open(ctx context.Context, ev *event.Event, skipMarkAndBadge bool) {
	if ev == nil {
		return
	}

	if !skipMarkAndBadge {
		h.markRead(ctx, ev)
	}

	if nav, ok := h.reg.Navigator(ev.Type); ok {
		err := nav(ctx, ev.Payload, ev)
		if err == nil {
			return
		}
		h.log.Warn().Err(err).Str("type", ev.Type).Msg("navigator failed, falling back")
	}

	if path := ResolvePath(ev.Payload); path != "" {
		err := h.router.Push(path)
		if err == nil {
			return
		}
		h.log.Warn().Err(err).Str("path", path).Msg("push failed, falling back")
	}

	if err := h.router.Push(NotificationsPath); err != nil {
		h.log.Warn().Err(err).Msg("push to notifications failed")
	}
}

// OpenFunc binds the handler to one event for a renderer's affordance.
func (h *ClickHandler) OpenFunc(ev *event.Event) OpenFunc {
	return func(ctx context.Context, skipMarkAndBadge bool) {
		h.Open(ctx, ev, skipMarkAndBadge)
	}
}

func (h *ClickHandler) markRead(ctx context.Context, ev *event.Event) {
	if h.marker == nil || ev.ID == 0 {
		return
	}
	if err := h.marker.MarkRead(ctx, []int64{ev.ID}); err != nil {
		h.log.Debug().Err(err).Int64("id", ev.ID).Msg("mark-read failed")
		return
	}
	if h.badge != nil {
		h.badge(-1)
	}
}
