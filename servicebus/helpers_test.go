package servicebus_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/next-trace/scg-channel-bus/adapters/inmemory"
	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	"github.com/next-trace/scg-channel-bus/servicebus"
)

const waitFor = time.Second

func newBus(t *testing.T, tr cbus.Transport, opts ...servicebus.Option) *servicebus.Bus {
	t.Helper()

	b, err := servicebus.New(tr, opts...)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}

	t.Cleanup(func() { _ = b.Close() })

	return b
}

// collect registers a handler on name that forwards payloads to the returned channel.
func collect(t *testing.T, b *servicebus.Bus, name string) <-chan string {
	t.Helper()

	got := make(chan string, 16)

	err := b.RegisterChannel(name, func(_ context.Context, m cbus.Message) error {
		got <- m.Payload
		return nil
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}

	return got
}

func expect(t *testing.T, got <-chan string, want string) {
	t.Helper()

	select {
	case p := <-got:
		if p != want {
			t.Fatalf("want payload %q, got %q", want, p)
		}
	case <-time.After(waitFor):
		t.Fatalf("no message, want %q", want)
	}
}

func expectNone(t *testing.T, got <-chan string) {
	t.Helper()

	select {
	case p := <-got:
		t.Fatalf("unexpected payload %q", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("condition not met: %s", msg)
}

// countingTransport counts Subscribe calls on top of the loopback adapter.
type countingTransport struct {
	*inmemory.Adapter
	subscribes atomic.Int32
}

func (c *countingTransport) Subscribe(ctx context.Context, channels ...string) (cbus.Subscription, error) {
	c.subscribes.Add(1)
	return c.Adapter.Subscribe(ctx, channels...)
}

// blockingPublisher holds every publish until release is closed.
type blockingPublisher struct {
	release chan struct{}
	calls   atomic.Int32
}

func (p *blockingPublisher) Publish(ctx context.Context, channel, payload string) error {
	p.calls.Add(1)
	<-p.release

	return nil
}
