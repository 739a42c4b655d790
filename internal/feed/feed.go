// Package feed implements the delivery side of bus.Subscription for adapters.
//
// A Feed owns the deliveries channel. Producers (broker callbacks or pump goroutines) call Push,
// and exactly one Stop call closes the channel after every in-flight Push has returned, so
// adapters never race a send against the close.
package feed

import (
	"sync"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
)

const defaultBuffer = 64

type Feed struct {
	out  chan cbus.Delivery
	done chan struct{}

	// RLock is held by Push while it may send on out; Stop takes the write lock before close(out).
	mu     sync.RWMutex
	closed bool

	stopOnce sync.Once

	errMu sync.Mutex
	err   error
}

// New creates a feed with the given channel buffer. buffer <= 0 selects a default.
func New(buffer int) *Feed {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	return &Feed{
		out:  make(chan cbus.Delivery, buffer),
		done: make(chan struct{}),
	}
}

func (f *Feed) Deliveries() <-chan cbus.Delivery { return f.out }

// Done is closed when Stop is called.
func (f *Feed) Done() <-chan struct{} { return f.done }

// Push hands a delivery to the consumer, blocking until it is accepted or the feed stops.
// It reports false if the delivery was not accepted.
func (f *Feed) Push(d cbus.Delivery) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return false
	}

	select {
	case <-f.done:
		return false
	case f.out <- d:
		return true
	}
}

// Stop ends the feed. err is the failure cause, nil for a deliberate close.
// Only the first call has an effect.
func (f *Feed) Stop(err error) {
	f.stopOnce.Do(func() {
		f.errMu.Lock()
		f.err = err
		f.errMu.Unlock()

		close(f.done)

		f.mu.Lock()
		f.closed = true
		close(f.out)
		f.mu.Unlock()
	})
}

func (f *Feed) Err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()

	return f.err
}
