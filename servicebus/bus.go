package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/envelope"
	"github.com/next-trace/scg-channel-bus/internal/logging"
)

const tracerName = "github.com/next-trace/scg-channel-bus/servicebus"

// Bus is the messaging context of one process: it owns the channel registry, the dispatcher, the
// publish workers, the subscription loop and the request correlator, and talks to a single
// transport.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	mu        sync.Mutex
	transport cbus.Transport
	closed    bool
	reserved  bool

	filterID       string
	workers        int
	queue          int
	publishTimeout time.Duration
	requestTimeout time.Duration

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	registry   *Registry
	dispatcher *Dispatcher
	publisher  *Publisher
	listener   *listener
	correlator *Correlator
}

// New constructs a Bus over t.
func New(t cbus.Transport, opts ...Option) (*Bus, error) {
	b := &Bus{
		transport: t,
		filterID:  DefaultFilterID,
		tracer:    otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(b)
	}

	if err := envelope.CheckFilterID(b.filterID); err != nil {
		return nil, fmt.Errorf("new bus: %w", err)
	}

	b.logger = logging.OrDiscard(b.logger).With("filter_id", b.filterID)

	b.registry = NewRegistry()

	b.dispatcher = NewDispatcher(b.registry, b.filterID, b.logger)
	b.dispatcher.metrics = b.metrics
	b.dispatcher.tracer = b.tracer

	b.publisher = NewPublisher(t, b.workers, b.queue, b.publishTimeout, b.logger, b.metrics)

	b.correlator = NewCorrelator(b.publisher, b.filterID, b.requestTimeout, b.logger)
	b.correlator.metrics = b.metrics
	b.correlator.tracer = b.tracer

	b.listener = newListener(b.registry, b.dispatcher, b.logger)

	return b, nil
}

// RegisterChannel binds fn to name. Each name can be registered once per Bus.
func (b *Bus) RegisterChannel(name string, fn cbus.HandlerFunc) error {
	return b.Register(name, cbus.Func(fn))
}

// RegisterReceiver binds a receiver factory to name; the factory runs once per delivery.
func (b *Bus) RegisterReceiver(name string, f cbus.ReceiverFactory) error {
	return b.Register(name, cbus.Factory(f))
}

// Register binds ref to name. A channel registered while listening is added to the running
// subscription.
func (b *Bus) Register(name string, ref cbus.HandlerRef) error {
	if _, err := b.registry.Register(name, ref); err != nil {
		return err
	}

	b.logger.Debug("channel registered", "channel", name)

	return nil
}

// Channel returns the registered channel called name.
func (b *Bus) Channel(name string) (*Channel, error) { return b.registry.Lookup(name) }

// Channels returns the registered channel names, sorted.
func (b *Bus) Channels() []string { return b.registry.Names() }

// Publish sends message on channel to the process identified by filterID.
// It never blocks on the transport; failures surface on the returned Completion.
func (b *Bus) Publish(ctx context.Context, filterID, channel, message string) *Completion {
	return b.publisher.Publish(ctx, filterID, channel, message)
}

// Broadcast sends message on channel to every listening process.
func (b *Bus) Broadcast(ctx context.Context, channel, message string) *Completion {
	return b.publisher.Broadcast(ctx, channel, message)
}

// Respond registers fn as the responder for key. The last registration for a key wins.
func (b *Bus) Respond(key string, fn ResponderFunc) { b.correlator.Respond(key, fn) }

// Request asks the process identified by target for the data under key.
// See Correlator.Request for the outcome semantics.
func (b *Bus) Request(ctx context.Context, target, key string, data Object) (DataResponse, error) {
	return b.correlator.Request(ctx, target, key, data)
}

// StartListeners subscribes to every registered channel and starts the delivery loop.
// The reserved request channel is registered on the first call. Calling it while the loop is
// running does nothing.
func (b *Bus) StartListeners(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("start listeners: %w", berr.ErrBusClosed)
	}

	if !b.reserved {
		b.reserved = true

		if _, err := b.registry.Register(RequestChannel, cbus.Factory(b.correlator.Receiver)); err != nil {
			b.logger.WarnContext(ctx, "reserved channel already registered", "channel", RequestChannel, "error", err)
		}
	}

	if b.transport == nil {
		return fmt.Errorf("start listeners: %w", berr.ErrTransportNotConfigured)
	}

	return b.listener.start(ctx, b.transport)
}

// Listening reports whether the delivery loop is running.
func (b *Bus) Listening() bool { return b.listener.running() }

func (b *Bus) FilterID() string { return b.filterID }

// Pending reports how many requests are awaiting a response.
func (b *Bus) Pending() int { return b.correlator.Pending() }

// Reconnect replaces the transport. The running loop and the old transport are shut down before
// t is installed, and listening resumes on t if it was running.
func (b *Bus) Reconnect(ctx context.Context, t cbus.Transport) error {
	if t == nil {
		return fmt.Errorf("reconnect: %w", berr.ErrTransportNotConfigured)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("reconnect: %w", berr.ErrBusClosed)
	}

	wasRunning := b.listener.running()

	var errs []error

	if err := b.listener.stop(); err != nil {
		errs = append(errs, err)
	}

	if b.transport != nil {
		if err := b.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	b.transport = t
	b.publisher.setTarget(t)

	if err := errors.Join(errs...); err != nil {
		b.logger.WarnContext(ctx, "previous transport did not close cleanly", "error", err)
	}

	if wasRunning {
		if err := b.listener.start(ctx, t); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
	}

	b.logger.InfoContext(ctx, "transport replaced")

	return nil
}

// Close stops the delivery loop, drains queued publishes and closes the transport.
// Later calls return nil.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	var errs []error

	if err := b.listener.stop(); err != nil {
		errs = append(errs, err)
	}

	b.publisher.Close()

	if b.transport != nil {
		if err := b.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
