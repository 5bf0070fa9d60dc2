// Package event carries "data changed" notifications from the ledger engine
// to whoever renders its output.
package event

import (
	"sync"
	"sync/atomic"
)

// Change describes what was mutated. Listeners are expected to re-read the
// store rather than trust the payload.
type Change struct {
	Entity string `json:"entity"`
	Action string `json:"action"`
	Key    string `json:"key,omitempty"`
}

const (
	EntityEntry = "entry"
	EntityUsage = "usage"
	EntityStore = "store"

	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionCommitted = "committed"
	ActionRestored  = "restored"
)

// Listener is called synchronously for every published change.
type Listener func(Change)

// Publisher is the side of the bus the engine depends on.
type Publisher interface {
	Publish(Change)
}

// Bus fans a change out to registered listeners and counts publications so
// pull-based readers can tell whether anything moved since they last looked.
type Bus struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
	version   atomic.Int64
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[uint64]Listener)}
}

// Subscribe registers fn and returns a func that removes it.
func (b *Bus) Subscribe(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Publish bumps the version and then notifies every listener.
func (b *Bus) Publish(c Change) {
	b.version.Add(1)

	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
}

// Version returns the number of changes published so far.
func (b *Bus) Version() int64 {
	return b.version.Load()
}

// ListenerCount returns the number of registered listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(Change) {}
