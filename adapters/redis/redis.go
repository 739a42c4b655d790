// Package redis provides a Redis Pub/Sub transport for the channel bus. Channels map 1:1 to
// Redis channels; every subscription runs on its own connection.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/internal/feed"
)

// Client is the subset of a Redis client the adapter needs.
type Client interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channels ...string) (PubSub, error)
	Close() error
}

// PubSub is one subscribed connection. Channel is closed by Close.
type PubSub interface {
	Channel() <-chan *goredis.Message
	Subscribe(ctx context.Context, channels ...string) error
	Close() error
}

// Adapter implements cbus.Transport over a Redis-like Client.
type Adapter struct {
	Client Client

	mu     sync.Mutex
	closed bool
}

var _ cbus.Transport = (*Adapter)(nil)

func New(c Client) *Adapter { return &Adapter{Client: c} }

func (a *Adapter) Publish(ctx context.Context, channel, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("redis publish: %w", berr.ErrTransportNotConfigured)
	}

	if err := a.Client.Publish(ctx, channel, payload); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("redis publish %s: %w", channel, errors.Join(berr.ErrMessageFailure, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channels ...string) (cbus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Client == nil {
		return nil, fmt.Errorf("redis subscribe: %w", berr.ErrTransportNotConfigured)
	}

	ps, err := a.Client.Subscribe(ctx, channels...)
	if err != nil {
		return nil, fmt.Errorf("redis subscribe: %w", errors.Join(berr.ErrCouldNotConnect, err))
	}

	s := &subscription{pubsub: ps, feed: feed.New(0)}

	go s.pump()

	return s, nil
}

// Close closes the client. Later calls return nil.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.Client == nil {
		return nil
	}

	a.closed = true

	return a.Client.Close()
}

type subscription struct {
	pubsub PubSub
	feed   *feed.Feed
	once   sync.Once
	err    error
}

func (s *subscription) pump() {
	for m := range s.pubsub.Channel() {
		if !s.feed.Push(cbus.Delivery{Channel: m.Channel, Payload: m.Payload}) {
			return
		}
	}

	s.feed.Stop(nil)
}

func (s *subscription) Deliveries() <-chan cbus.Delivery { return s.feed.Deliveries() }

func (s *subscription) Err() error { return s.feed.Err() }

func (s *subscription) Add(ctx context.Context, channels ...string) error {
	if err := s.pubsub.Subscribe(ctx, channels...); err != nil {
		return fmt.Errorf("redis subscribe: %w", errors.Join(berr.ErrCouldNotConnect, err))
	}

	return nil
}

// Close unsubscribes and releases the dedicated connection.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.feed.Stop(nil)
		s.err = s.pubsub.Close()
	})

	return s.err
}
