package servicebus

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
)

// Channel is a registered channel name and the handler bound to it.
type Channel struct {
	Name    string
	Handler cbus.HandlerRef

	lastMessageAt atomic.Int64 // unix nanos, 0 = never
}

// LastMessageAt reports when a message was last dispatched on the channel.
func (c *Channel) LastMessageAt() (time.Time, bool) {
	ns := c.lastMessageAt.Load()
	if ns == 0 {
		return time.Time{}, false
	}

	return time.Unix(0, ns), true
}

func (c *Channel) touch(t time.Time) { c.lastMessageAt.Store(t.UnixNano()) }

// Registry maps channel names to handlers. Names are registered at most once and never removed.
//
// Registry is concurrency-safe and contains no global state.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel

	// called outside the lock after every successful registration
	onRegister func(name string)
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Register binds ref to name. Duplicate names are rejected with ErrChannelAlreadyRegistered and
// leave the existing binding untouched.
func (r *Registry) Register(name string, ref cbus.HandlerRef) (*Channel, error) {
	if name == "" {
		return nil, fmt.Errorf("register channel: %w", berr.ErrChannelNameRequired)
	}

	r.mu.Lock()

	if _, exists := r.channels[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("register channel %s: %w", name, berr.ErrChannelAlreadyRegistered)
	}

	ch := &Channel{Name: name, Handler: ref}
	r.channels[name] = ch
	hook := r.onRegister

	r.mu.Unlock()

	if hook != nil {
		hook(name)
	}

	return ch, nil
}

// Lookup returns the channel registered under name.
func (r *Registry) Lookup(name string) (*Channel, error) {
	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("lookup channel %s: %w", name, berr.ErrChannelNotRegistered)
	}

	return ch, nil
}

// Names returns the registered channel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.channels))
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.channels)
}

func (r *Registry) observe(fn func(name string)) {
	r.mu.Lock()
	r.onRegister = fn
	r.mu.Unlock()
}
