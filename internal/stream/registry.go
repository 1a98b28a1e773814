package stream

import (
	"strings"
	"sync"
)

// Registry maps broadcast-channel names to their Channel instances. Channels
// are created lazily on first reference and never evicted; the registry is
// constructed once at wiring time and passed by reference, never held as a
// package global.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
	factory  func(name string) *Channel
}

// NewRegistry creates a Registry that builds missing channels with factory.
func NewRegistry(factory func(name string) *Channel) *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
		factory:  factory,
	}
}

// Get returns the channel for name, creating it on first reference. Names
// are case-insensitive.
func (r *Registry) Get(name string) *Channel {
	key := strings.ToLower(strings.TrimPrefix(name, "#"))

	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[key]; ok {
		return ch
	}
	ch := r.factory(key)
	r.channels[key] = ch
	return ch
}

// Lookup returns the channel for name without creating it.
func (r *Registry) Lookup(name string) (*Channel, bool) {
	key := strings.ToLower(strings.TrimPrefix(name, "#"))

	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[key]
	return ch, ok
}

// Len returns the number of channels seen so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
