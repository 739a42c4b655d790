package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/internal/feed"
)

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes data to a subject.
	Publish(subject string, data []byte) error
	// Subscribe calls cb for every message on subject until the returned handle is unsubscribed.
	Subscribe(subject string, cb func(subject string, data []byte)) (Unsubscriber, error)
}

type Unsubscriber interface {
	Unsubscribe() error
}

// Adapter implements cbus.Transport using an injected NATS-like Client. Channels map 1:1 to
// subjects.
type Adapter struct {
	Client Client

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// Ensure Adapter implements the combined contract.
var _ cbus.Transport = (*Adapter)(nil)

// New creates a new NATS adapter instance with the provided client.
func New(c Client) *Adapter { return &Adapter{Client: c, subs: make(map[*subscription]struct{})} }

func (a *Adapter) Publish(ctx context.Context, channel, payload string) error {
	if err := a.ready(ctx, "publish"); err != nil {
		return err
	}

	if err := a.Client.Publish(channel, []byte(payload)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats publish %s: %w", channel, errors.Join(berr.ErrMessageFailure, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channels ...string) (cbus.Subscription, error) {
	if err := a.ready(ctx, "subscribe"); err != nil {
		return nil, err
	}

	s := &subscription{adapter: a, feed: feed.New(0), handles: make(map[string]Unsubscriber)}

	if err := s.Add(ctx, channels...); err != nil {
		_ = s.Close()
		return nil, err
	}

	a.mu.Lock()
	a.subs[s] = struct{}{}
	a.mu.Unlock()

	return s, nil
}

// Fail ends every open subscription with err. The connection wrapper calls it when the
// connection is closed for good.
func (a *Adapter) Fail(err error) {
	a.mu.Lock()
	subs := make([]*subscription, 0, len(a.subs))
	for s := range a.subs {
		subs = append(subs, s)
	}
	a.mu.Unlock()

	for _, s := range subs {
		s.stop(err)
	}
}

// Close ends every open subscription. The connection is owned by the cleanup returned from
// NewWithNATS.
func (a *Adapter) Close() error {
	a.mu.Lock()
	subs := make([]*subscription, 0, len(a.subs))
	for s := range a.subs {
		subs = append(subs, s)
	}
	a.mu.Unlock()

	var errs []error
	for _, s := range subs {
		errs = append(errs, s.Close())
	}

	return errors.Join(errs...)
}

func (a *Adapter) ready(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, berr.ErrTransportNotConfigured)
	}

	return nil
}

func (a *Adapter) forget(s *subscription) {
	a.mu.Lock()
	delete(a.subs, s)
	a.mu.Unlock()
}

type subscription struct {
	adapter *Adapter
	feed    *feed.Feed

	mu      sync.Mutex
	handles map[string]Unsubscriber
}

func (s *subscription) Deliveries() <-chan cbus.Delivery { return s.feed.Deliveries() }

func (s *subscription) Err() error { return s.feed.Err() }

func (s *subscription) Add(ctx context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range channels {
		if _, ok := s.handles[ch]; ok {
			continue
		}

		h, err := s.adapter.Client.Subscribe(ch, func(subject string, data []byte) {
			s.feed.Push(cbus.Delivery{Channel: subject, Payload: string(data)})
		})
		if err != nil {
			return fmt.Errorf("nats subscribe %s: %w", ch, errors.Join(berr.ErrCouldNotConnect, err))
		}

		s.handles[ch] = h
	}

	return nil
}

func (s *subscription) Close() error {
	return s.stop(nil)
}

func (s *subscription) stop(cause error) error {
	s.mu.Lock()
	handles := s.handles
	s.handles = map[string]Unsubscriber{}
	s.mu.Unlock()

	var errs []error

	for _, h := range handles {
		if err := h.Unsubscribe(); err != nil && cause == nil {
			errs = append(errs, err)
		}
	}

	s.adapter.forget(s)
	s.feed.Stop(cause)

	return errors.Join(errs...)
}
