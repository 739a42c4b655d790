package servicebus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
)

// listener owns the single subscription loop of a Bus.
type listener struct {
	mu sync.Mutex

	registry   *Registry
	dispatcher *Dispatcher
	logger     *slog.Logger

	sub        cbus.Subscription
	subscribed map[string]struct{}
	done       chan struct{}
	cancel     context.CancelFunc
}

func newListener(reg *Registry, d *Dispatcher, logger *slog.Logger) *listener {
	l := &listener{registry: reg, dispatcher: d, logger: logger}
	reg.observe(l.add)

	return l
}

// start subscribes to every registered channel and runs the delivery loop. A running loop is
// left alone.
func (l *listener) start(ctx context.Context, t cbus.Subscriber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sub != nil {
		return nil
	}

	if t == nil {
		return fmt.Errorf("start listeners: %w", berr.ErrTransportNotConfigured)
	}

	names := l.registry.Names()

	sub, err := t.Subscribe(ctx, names...)
	if err != nil {
		return fmt.Errorf("start listeners: %w", err)
	}

	l.subscribed = make(map[string]struct{}, len(names))
	for _, n := range names {
		l.subscribed[n] = struct{}{}
	}

	// The loop outlives the caller's context.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	l.sub = sub
	l.done = done
	l.cancel = cancel

	go l.run(loopCtx, sub, done)

	l.logger.InfoContext(ctx, "listening", "channels", names)

	return nil
}

func (l *listener) run(ctx context.Context, sub cbus.Subscription, done chan struct{}) {
	defer close(done)

	for d := range sub.Deliveries() {
		if err := l.dispatcher.Route(ctx, d.Channel, d.Payload); err != nil {
			l.logger.ErrorContext(ctx, "handler failed", "channel", d.Channel, "error", err)
		}
	}

	l.mu.Lock()
	if l.sub == sub {
		l.sub = nil
		l.subscribed = nil
	}
	l.mu.Unlock()

	if err := sub.Err(); err != nil {
		l.logger.ErrorContext(ctx, "subscription ended", "error", err)
	}
}

// stop closes the subscription and waits for the loop to exit.
func (l *listener) stop() error {
	l.mu.Lock()
	sub, done, cancel := l.sub, l.done, l.cancel
	l.sub, l.subscribed = nil, nil
	l.mu.Unlock()

	if sub == nil {
		if cancel != nil {
			cancel()
		}

		return nil
	}

	err := sub.Close()

	<-done
	cancel()

	return err
}

func (l *listener) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sub != nil
}

// add extends a running subscription with a channel registered after start.
func (l *listener) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sub == nil {
		return
	}

	if _, ok := l.subscribed[name]; ok {
		return
	}

	if err := l.sub.Add(context.Background(), name); err != nil {
		l.logger.Error("subscribe late channel", "channel", name, "error", err)
		return
	}

	l.subscribed[name] = struct{}{}
}
