package servicebus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/envelope"
	"github.com/next-trace/scg-channel-bus/internal/logging"
)

// Dispatcher routes raw deliveries to registered channel handlers.
//
// A delivery is handled only when its filter id is the broadcast sentinel or this process's
// filter id; everything else, including channels this process never registered, is dropped
// without error.
type Dispatcher struct {
	registry *Registry
	filterID string
	logger   *slog.Logger

	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewDispatcher builds a dispatcher over reg for a process identified by filterID.
func NewDispatcher(reg *Registry, filterID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		filterID: filterID,
		logger:   logging.OrDiscard(logger),
		tracer:   noop.NewTracerProvider().Tracer(""),
		now:      time.Now,
	}
}

// Route decodes raw and invokes the handler registered for channel.
// Handlers receive the payload with the filter prefix stripped.
//
// Drops return nil. A non-nil error means the message was addressed to this process but could
// not be handled: the channel has no usable handler (ErrChannelDefinition), or the handler
// failed or panicked.
func (d *Dispatcher) Route(ctx context.Context, channel, raw string) error {
	env, err := envelope.Decode(raw)
	if err != nil {
		d.logger.WarnContext(ctx, "dropping malformed message", "channel", channel, "error", err)
		d.metrics.observeReceive(channel, outcomeMalformed)

		return nil
	}

	if !env.AddressedTo(d.filterID) {
		d.metrics.observeReceive(channel, outcomeFiltered)
		return nil
	}

	ch, err := d.registry.Lookup(channel)
	if err != nil {
		d.logger.DebugContext(ctx, "dropping message for unregistered channel", "channel", channel)
		d.metrics.observeReceive(channel, outcomeUnregistered)

		return nil
	}

	err = d.invoke(ctx, ch, cbus.Message{Channel: channel, Payload: env.Payload})
	if err != nil {
		d.metrics.observeReceive(channel, outcomeFailed)
		return err
	}

	d.metrics.observeReceive(channel, outcomeDispatched)

	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, ch *Channel, msg cbus.Message) (err error) {
	ctx, span := d.tracer.Start(ctx, "channelbus.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("channelbus.channel", ch.Name)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch %s: handler panic: %v", ch.Name, r)
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	switch {
	case ch.Handler.Func != nil:
		err = ch.Handler.Func(ctx, msg)
	case ch.Handler.Factory != nil:
		rcv := ch.Handler.Factory()
		if rcv == nil {
			return fmt.Errorf("dispatch %s: factory returned no receiver: %w", ch.Name, berr.ErrChannelDefinition)
		}

		err = rcv.OnMessage(ctx, msg)
	default:
		return fmt.Errorf("dispatch %s: %w", ch.Name, berr.ErrChannelDefinition)
	}

	if err != nil {
		return fmt.Errorf("dispatch %s: %w", ch.Name, err)
	}

	ch.touch(d.now())

	return nil
}
