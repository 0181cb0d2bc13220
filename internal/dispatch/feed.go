package dispatch

import (
	"sync"

	"github.com/openmall/realtime/internal/event"
)

// Feed is the bounded, newest-first log of recent events backing the
// notification drawer. It is a display cache, not a store of record; the
// server keeps the authoritative list.
type Feed struct {
	mu     sync.Mutex
	limit  int
	events []*event.Event
}

// NewFeed builds a feed that keeps at most limit events.
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 200
	}
	return &Feed{limit: limit}
}

// Push prepends an event, evicting the oldest past the limit.
func (f *Feed) Push(ev *event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append([]*event.Event{ev}, f.events...)
	if len(f.events) > f.limit {
		f.events = f.events[:f.limit]
	}
}

// Events returns a newest-first snapshot.
func (f *Feed) Events() []*event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*event.Event(nil), f.events...)
}

// Len returns the current event count.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// CountSignal fans the "count changed" delta out to badge-style observers,
// so they can update without re-fetching. Listener keys are idempotent:
// adding the same key twice keeps one registration.
type CountSignal struct {
	mu        sync.Mutex
	listeners map[string]func(delta int)
}

// NewCountSignal builds an empty signal.
func NewCountSignal() *CountSignal {
	return &CountSignal{listeners: make(map[string]func(delta int))}
}

// Add registers a listener under a key, replacing any previous one.
func (s *CountSignal) Add(key string, fn func(delta int)) {
	if key == "" || fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners[key] = fn
	s.mu.Unlock()
}

// Remove drops a listener. Unknown keys are a no-op.
func (s *CountSignal) Remove(key string) {
	s.mu.Lock()
	delete(s.listeners, key)
	s.mu.Unlock()
}

// Emit delivers the delta to every listener.
func (s *CountSignal) Emit(delta int) {
	s.mu.Lock()
	fns := make([]func(int), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(delta)
	}
}
