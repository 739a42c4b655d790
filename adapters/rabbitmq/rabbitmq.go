package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/propagation"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/internal/feed"
)

// Exchange is the direct exchange every channel is routed through.
const Exchange = "channelbus"

type PubMsg struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Inbound is a message consumed from the subscription queue.
type Inbound struct {
	RoutingKey string
	Body       []byte
}

// Session is one consuming queue. Messages is closed when the session ends; Err then reports
// why (nil after Close).
type Session interface {
	Bind(routingKey string) error
	Messages() <-chan Inbound
	Err() error
	Close() error
}

// Dialer opens consuming sessions.
type Dialer interface {
	Open(ctx context.Context) (Session, error)
}

type Adapter struct {
	Publisher  Publisher
	Dialer     Dialer
	Propagator propagation.TextMapPropagator // optional, injects trace context into headers

	closeMu sync.Mutex
	onClose []func()
	closed  bool
}

var _ cbus.Transport = (*Adapter)(nil)

func New(p Publisher, d Dialer) *Adapter { return &Adapter{Publisher: p, Dialer: d} }

// NewWithPropagator allows configuring a propagator for trace context in message headers.
func NewWithPropagator(p Publisher, d Dialer, tp propagation.TextMapPropagator) *Adapter {
	return &Adapter{Publisher: p, Dialer: d, Propagator: tp}
}

func (a *Adapter) Publish(ctx context.Context, channel, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq publish: %w", berr.ErrTransportNotConfigured)
	}

	hdrs := make(map[string]string, 2)
	if a.Propagator != nil {
		a.Propagator.Inject(ctx, propagation.MapCarrier(hdrs))
	}

	msg := PubMsg{
		Exchange:   Exchange,
		RoutingKey: channel,
		Body:       []byte(payload),
		Headers:    hdrs,
	}
	if err := a.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq publish %s: %w", channel, errors.Join(berr.ErrMessageFailure, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channels ...string) (cbus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Dialer == nil {
		return nil, fmt.Errorf("rabbitmq subscribe: %w", berr.ErrTransportNotConfigured)
	}

	sess, err := a.Dialer.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq subscribe: %w", errors.Join(berr.ErrCouldNotConnect, err))
	}

	s := &subscription{session: sess, feed: feed.New(0), bound: make(map[string]struct{})}

	if err := s.Add(ctx, channels...); err != nil {
		_ = s.Close()
		return nil, err
	}

	go s.pump()

	return s, nil
}

// OnClose registers fn to run when the adapter closes.
func (a *Adapter) OnClose(fn func()) {
	a.closeMu.Lock()
	a.onClose = append(a.onClose, fn)
	a.closeMu.Unlock()
}

// Close runs the registered cleanups once. Subscriptions own their sessions and are closed by
// their holders.
func (a *Adapter) Close() error {
	a.closeMu.Lock()
	if a.closed {
		a.closeMu.Unlock()
		return nil
	}

	a.closed = true
	fns := a.onClose
	a.closeMu.Unlock()

	for _, fn := range fns {
		fn()
	}

	return nil
}

type subscription struct {
	session Session
	feed    *feed.Feed

	mu    sync.Mutex
	bound map[string]struct{}
}

func (s *subscription) pump() {
	for m := range s.session.Messages() {
		if !s.feed.Push(cbus.Delivery{Channel: m.RoutingKey, Payload: string(m.Body)}) {
			break
		}
	}

	s.feed.Stop(s.session.Err())
}

func (s *subscription) Deliveries() <-chan cbus.Delivery { return s.feed.Deliveries() }

func (s *subscription) Err() error { return s.feed.Err() }

func (s *subscription) Add(_ context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range channels {
		if _, ok := s.bound[ch]; ok {
			continue
		}

		if err := s.session.Bind(ch); err != nil {
			return fmt.Errorf("rabbitmq bind %s: %w", ch, errors.Join(berr.ErrCouldNotConnect, err))
		}

		s.bound[ch] = struct{}{}
	}

	return nil
}

// Close ends the session. The pump exits once the session stops delivering.
func (s *subscription) Close() error {
	s.feed.Stop(nil)
	return s.session.Close()
}
