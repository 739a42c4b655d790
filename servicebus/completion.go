package servicebus

import (
	"context"
	"sync"
)

// Completion is the asynchronous result of a publish. It is completed exactly once, with nil on
// success or an error wrapping ErrMessageFailure when the transport rejected the message.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func completed(err error) *Completion {
	c := newCompletion()
	c.complete(err)

	return c
}

// complete records err and wakes every waiter. Later calls are ignored.
func (c *Completion) complete(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the publish finished.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Wait blocks until the publish finished or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result reports whether the publish finished and, if so, its error.
func (c *Completion) Result() (bool, error) {
	select {
	case <-c.done:
		return true, c.err
	default:
		return false, nil
	}
}

// OnDone runs cb with the final error on its own goroutine once the publish finished.
func (c *Completion) OnDone(cb func(err error)) {
	go func() {
		<-c.done
		cb(c.err)
	}()
}
