// Package inmemory is a loopback transport. Adapters created from the same Broker see each
// other's messages, so several buses in one process can talk as if they shared a broker.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/internal/feed"
)

// Broker fans published messages out to every subscription on the channel.
type Broker struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

func NewBroker() *Broker { return &Broker{subs: make(map[*subscription]struct{})} }

func (b *Broker) publish(msg cbus.Message) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))

	for s := range b.subs {
		if s.wants(msg.Channel) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.feed.Push(cbus.Delivery{Channel: msg.Channel, Payload: msg.Payload})
	}
}

func (b *Broker) attach(s *subscription) {
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
}

func (b *Broker) detach(s *subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Adapter is a thread-safe in-memory cbus.Transport. It records every published message.
type Adapter struct {
	broker *Broker

	mu        sync.Mutex
	Published []cbus.Message
	failWith  error
	closed    bool
	subs      []*subscription
}

// Ensure Adapter implements the combined contract.
var _ cbus.Transport = (*Adapter)(nil)

// New creates an adapter on its own broker; messages it publishes loop back to its subscriptions.
func New() *Adapter { return NewOn(NewBroker()) }

// NewOn creates an adapter sharing broker with other adapters.
func NewOn(broker *Broker) *Adapter { return &Adapter{broker: broker} }

// FailWith makes every later Publish return err. A nil err restores normal delivery.
func (a *Adapter) FailWith(err error) {
	a.mu.Lock()
	a.failWith = err
	a.mu.Unlock()
}

func (a *Adapter) Publish(ctx context.Context, channel, payload string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("inmemory publish %s: %w", channel, berr.ErrBusClosed)
	}

	if a.failWith != nil {
		err := a.failWith
		a.mu.Unlock()

		return err
	}

	msg := cbus.Message{Channel: channel, Payload: payload}
	a.Published = append(a.Published, msg)
	a.mu.Unlock()

	a.broker.publish(msg)

	return nil
}

// Messages returns a copy of the published messages.
func (a *Adapter) Messages() []cbus.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	return slices.Clone(a.Published)
}

func (a *Adapter) Subscribe(ctx context.Context, channels ...string) (cbus.Subscription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, fmt.Errorf("inmemory subscribe: %w", berr.ErrBusClosed)
	}

	s := &subscription{broker: a.broker, feed: feed.New(0), channels: make(map[string]struct{})}
	s.addChannels(channels)
	a.broker.attach(s)
	a.subs = append(a.subs, s)

	return s, nil
}

// Close ends every subscription opened through the adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}

	a.closed = true
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()

	var errs []error
	for _, s := range subs {
		errs = append(errs, s.Close())
	}

	return errors.Join(errs...)
}

// Drop ends every open subscription with err, as a broken connection would.
func (a *Adapter) Drop(err error) {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()

	for _, s := range subs {
		s.broker.detach(s)
		s.feed.Stop(err)
	}
}

type subscription struct {
	broker *Broker
	feed   *feed.Feed

	mu       sync.RWMutex
	channels map[string]struct{}
}

func (s *subscription) wants(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.channels[channel]

	return ok
}

func (s *subscription) addChannels(channels []string) {
	s.mu.Lock()
	for _, c := range channels {
		s.channels[c] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *subscription) Deliveries() <-chan cbus.Delivery { return s.feed.Deliveries() }

func (s *subscription) Add(ctx context.Context, channels ...string) error {
	s.addChannels(channels)
	return nil
}

func (s *subscription) Err() error { return s.feed.Err() }

func (s *subscription) Close() error {
	s.broker.detach(s)
	s.feed.Stop(nil)

	return nil
}
