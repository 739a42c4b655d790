// Package watermill bridges any Watermill publisher/subscriber pair into a channel bus transport.
// Channels map 1:1 to Watermill topics and message ids are ULIDs.
package watermill

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/internal/feed"
	"github.com/next-trace/scg-channel-bus/internal/ids"
)

// Adapter implements cbus.Transport over a Watermill publisher and subscriber.
type Adapter struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	closeOnce sync.Once
	closeErr  error
}

var _ cbus.Transport = (*Adapter)(nil)

func New(pub message.Publisher, sub message.Subscriber) *Adapter {
	return &Adapter{Publisher: pub, Subscriber: sub}
}

func (a *Adapter) Publish(ctx context.Context, channel, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("watermill publish: %w", berr.ErrTransportNotConfigured)
	}

	msg := message.NewMessage(ids.CreateULID(), []byte(payload))
	msg.SetContext(ctx)

	if err := a.Publisher.Publish(channel, msg); err != nil {
		return fmt.Errorf("watermill publish %s: %w", channel, errors.Join(berr.ErrMessageFailure, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channels ...string) (cbus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Subscriber == nil {
		return nil, fmt.Errorf("watermill subscribe: %w", berr.ErrTransportNotConfigured)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &subscription{
		subscriber: a.Subscriber,
		feed:       feed.New(0),
		ctx:        subCtx,
		cancel:     cancel,
		topics:     make(map[string]struct{}),
	}

	if err := s.Add(ctx, channels...); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the publisher and subscriber once.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		var errs []error

		if a.Publisher != nil {
			errs = append(errs, a.Publisher.Close())
		}

		// GoChannel serves both roles
		if a.Subscriber != nil && any(a.Subscriber) != any(a.Publisher) {
			errs = append(errs, a.Subscriber.Close())
		}

		a.closeErr = errors.Join(errs...)
	})

	return a.closeErr
}

type subscription struct {
	subscriber message.Subscriber
	feed       *feed.Feed
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	topics map[string]struct{}
}

func (s *subscription) Add(_ context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, topic := range channels {
		if _, ok := s.topics[topic]; ok {
			continue
		}

		msgs, err := s.subscriber.Subscribe(s.ctx, topic)
		if err != nil {
			return fmt.Errorf("watermill subscribe %s: %w", topic, errors.Join(berr.ErrCouldNotConnect, err))
		}

		s.topics[topic] = struct{}{}
		s.wg.Add(1)

		go s.pump(topic, msgs)
	}

	return nil
}

func (s *subscription) pump(topic string, msgs <-chan *message.Message) {
	defer s.wg.Done()

	for m := range msgs {
		ok := s.feed.Push(cbus.Delivery{Channel: topic, Payload: string(m.Payload)})
		m.Ack()

		if !ok {
			return
		}
	}

	if s.ctx.Err() == nil {
		s.feed.Stop(fmt.Errorf("watermill topic %s closed: %w", topic, berr.ErrCouldNotConnect))
	}
}

func (s *subscription) Deliveries() <-chan cbus.Delivery { return s.feed.Deliveries() }

func (s *subscription) Err() error { return s.feed.Err() }

func (s *subscription) Close() error {
	s.feed.Stop(nil)
	s.cancel()
	s.wg.Wait()

	return nil
}
