// Package registry maps event types to the renderer and navigation behavior
// the host registered for them. Lookup tables are last-write-wins; the fixed
// set of types is registered once at startup.
package registry

import (
	"context"
	"sync"

	"github.com/openmall/realtime/internal/event"
)

// OpenFunc is the "open" affordance a renderer wires to its click target.
// skipMarkAndBadge leaves the notification unread and the badge untouched.
type OpenFunc func(ctx context.Context, skipMarkAndBadge bool)

// Renderer presents one event to the user.
type Renderer interface {
	Render(ctx context.Context, ev *event.Event, open OpenFunc) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, ev *event.Event, open OpenFunc) error

func (f RendererFunc) Render(ctx context.Context, ev *event.Event, open OpenFunc) error {
	return f(ctx, ev, open)
}

// Navigator routes a click on an event of its registered type.
type Navigator func(ctx context.Context, payload map[string]any, ev *event.Event) error

// Resolver loads a renderer on demand for types with no eager registration.
// Returning (nil, nil) means the type has no renderer.
type Resolver func(ctx context.Context, eventType string) (Renderer, error)

// Registry is an explicit, injectable lookup table pair (no package-level
// state), so tests can run independent instances.
type Registry struct {
	mu         sync.RWMutex
	renderers  map[string]Renderer
	navigators map[string]Navigator
	resolver   Resolver
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{
		renderers:  make(map[string]Renderer),
		navigators: make(map[string]Navigator),
	}
}

// RegisterRenderer binds a renderer to an event type. Re-registration
// silently overwrites. Empty types and nil renderers are ignored.
func (r *Registry) RegisterRenderer(eventType string, renderer Renderer) {
	if eventType == "" || renderer == nil {
		return
	}
	r.mu.Lock()
	r.renderers[eventType] = renderer
	r.mu.Unlock()
}

// RegisterNavigator binds a navigation action to an event type.
func (r *Registry) RegisterNavigator(eventType string, nav Navigator) {
	if eventType == "" || nav == nil {
		return
	}
	r.mu.Lock()
	r.navigators[eventType] = nav
	r.mu.Unlock()
}

// SetResolver installs the lazy renderer loader.
func (r *Registry) SetResolver(resolver Resolver) {
	r.mu.Lock()
	r.resolver = resolver
	r.mu.Unlock()
}

// Renderer returns the eagerly registered renderer for a type.
func (r *Registry) Renderer(eventType string) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	renderer, ok := r.renderers[eventType]
	return renderer, ok
}

// Navigator returns the registered navigator for a type.
func (r *Registry) Navigator(eventType string) (Navigator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nav, ok := r.navigators[eventType]
	return nav, ok
}

// Resolve returns a renderer for the type, consulting eager registrations
// first and then the lazy resolver. A resolved renderer is cached.
func (r *Registry) Resolve(ctx context.Context, eventType string) (Renderer, error) {
	if renderer, ok := r.Renderer(eventType); ok {
		return renderer, nil
	}

	r.mu.RLock()
	resolver := r.resolver
	r.mu.RUnlock()
	if resolver == nil {
		return nil, nil
	}

	renderer, err := resolver(ctx, eventType)
	if err != nil || renderer == nil {
		return nil, err
	}
	r.RegisterRenderer(eventType, renderer)
	return renderer, nil
}

// Clear empties both tables. Used when a test host tears down.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.renderers = make(map[string]Renderer)
	r.navigators = make(map[string]Navigator)
	r.mu.Unlock()
}
