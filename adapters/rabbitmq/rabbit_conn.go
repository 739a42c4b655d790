package rabbitmq

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-channel-bus/contract/errors"
)

// Concrete AMQP connection-backed constructor, publisher wrapper with auto-reconnect, and
// consuming sessions on dedicated connections.

const exchangeKind = "direct"

type Config struct {
	URL         string
	ConnTimeout time.Duration
}

func dial(cfg Config, product string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": product},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := ch.ExchangeDeclare(Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, nil, err
	}

	return conn, ch, nil
}

type reconnectingPublisher struct {
	cfg    Config
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan struct{}
	ready  chan struct{} // closed while a channel is ready
}

func newReconnectingPublisher(cfg Config) (*reconnectingPublisher, func()) {
	rp := &reconnectingPublisher{
		cfg:    cfg,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}
	go rp.run()
	cleanup := func() { rp.close() }
	return rp, cleanup
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, m PubMsg) error {
	rp.mu.RLock()
	ch, ready := rp.ch, rp.ready
	rp.mu.RUnlock()

	if ch == nil {
		select {
		case <-ready:
		case <-rp.closed:
			return fmt.Errorf("%w: rabbitmq publisher closed", berr.ErrBusClosed)
		case <-ctx.Done():
			return ctx.Err()
		}

		rp.mu.RLock()
		ch = rp.ch
		rp.mu.RUnlock()

		if ch == nil {
			return fmt.Errorf("%w: rabbitmq not connected", berr.ErrCouldNotConnect)
		}
	}

	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Transient,
			Headers:      h,
			ContentType:  "text/plain",
			Body:         m.Body,
		},
	)
}

func (rp *reconnectingPublisher) run() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	for {
		select {
		case <-rp.closed:
			return
		default:
		}

		conn, ch, err := dial(rp.cfg, "scg-channel-bus")
		if err != nil {
			// exponential backoff with jitter
			jitter := time.Duration(rng.Int63n(int64(backoff / 2)))
			sleep := backoff + jitter/2
			if sleep > maxBackoff {
				sleep = maxBackoff
			}
			t := time.NewTimer(sleep)
			select {
			case <-rp.closed:
				t.Stop()
				return
			case <-t.C:
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}

		backoff = time.Second

		rp.mu.Lock()
		rp.conn = conn
		rp.ch = ch
		close(rp.ready)
		rp.mu.Unlock()

		// Block on connection close notifications to trigger reconnect
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-rp.closed:
			return
		case <-notify:
			rp.mu.Lock()
			rp.conn, rp.ch = nil, nil
			rp.ready = make(chan struct{})
			rp.mu.Unlock()

			_ = ch.Close()
			_ = conn.Close()
		}
	}
}

func (rp *reconnectingPublisher) close() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	select {
	case <-rp.closed:
		// already closed
		return
	default:
		close(rp.closed)
	}
	if rp.ch != nil {
		_ = rp.ch.Close()
		rp.ch = nil
	}
	if rp.conn != nil {
		_ = rp.conn.Close()
		rp.conn = nil
	}
}

// amqpDialer opens a dedicated connection per session.
type amqpDialer struct{ cfg Config }

func (d amqpDialer) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, ch, err := dial(d.cfg, "scg-channel-bus-consumer")
	if err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &amqpSession{
		conn:   conn,
		ch:     ch,
		queue:  q.Name,
		out:    make(chan Inbound),
		closed: make(chan struct{}),
	}

	go s.forward(deliveries, conn.NotifyClose(make(chan *amqp.Error, 1)))

	return s, nil
}

type amqpSession struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	out   chan Inbound

	closeOnce sync.Once
	closed    chan struct{}

	errMu sync.Mutex
	err   error
}

func (s *amqpSession) forward(in <-chan amqp.Delivery, notify <-chan *amqp.Error) {
	defer close(s.out)

	for {
		select {
		case d, ok := <-in:
			if !ok {
				s.fail(fmt.Errorf("%w: rabbitmq consumer cancelled", berr.ErrCouldNotConnect))
				return
			}

			select {
			case s.out <- Inbound{RoutingKey: d.RoutingKey, Body: d.Body}:
			case <-s.closed:
				return
			}
		case amqpErr := <-notify:
			if amqpErr != nil {
				s.fail(fmt.Errorf("%w: %w", berr.ErrCouldNotConnect, amqpErr))
			}

			return
		case <-s.closed:
			return
		}
	}
}

func (s *amqpSession) fail(err error) {
	select {
	case <-s.closed:
		return
	default:
	}

	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

func (s *amqpSession) Bind(routingKey string) error {
	return s.ch.QueueBind(s.queue, routingKey, Exchange, false, nil)
}

func (s *amqpSession) Messages() <-chan Inbound { return s.out }

func (s *amqpSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.err
}

// Close unsubscribes by dropping the exclusive queue together with the dedicated connection.
func (s *amqpSession) Close() error {
	var err error

	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})

	return err
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, ensures the channel exchange, and returns Adapter and cleanup.
func NewWithAMQPConn(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrTransportNotConfigured)
	}
	pub, cleanup := newReconnectingPublisher(cfg)
	ad := New(pub, amqpDialer{cfg: cfg})
	ad.OnClose(cleanup)
	return ad, cleanup, nil
}
