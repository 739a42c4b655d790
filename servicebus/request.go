package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/internal/jsoncodec"
	"github.com/next-trace/scg-channel-bus/internal/logging"
)

const (
	// RequestChannel is the reserved channel carrying data requests and their responses.
	RequestChannel = "internal-data-request"

	DefaultRequestTimeout = 100 * time.Millisecond

	responseSender = "internal"

	streamRequest  = "REQUEST"
	streamResponse = "RESPONSE"
)

// Object is the JSON-like value carried by requests and responses.
type Object = map[string]any

// ResponderFunc answers a data request. Returning an error sends no response.
type ResponderFunc func(ctx context.Context, data Object) (Object, error)

// DataResponse is the outcome of Request. Received is false when no response arrived before the
// deadline; Data is then nil.
type DataResponse struct {
	Data     Object
	Received bool
	Latency  time.Duration
}

func (r DataResponse) LatencyMillis() int64 { return r.Latency.Milliseconds() }

// Decode re-encodes Data into v.
func (r DataResponse) Decode(v any) error {
	raw, err := jsoncodec.Marshal(r.Data)
	if err != nil {
		return errors.Join(berr.ErrSerializationFailed, err)
	}

	if err := jsoncodec.Unmarshal(raw, v); err != nil {
		return errors.Join(berr.ErrSerializationFailed, err)
	}

	return nil
}

type requestEnvelope struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Data   Object `json:"data"`
	Sender string `json:"sender"`
	Stream string `json:"stream"`
}

type pendingRequest struct {
	createdAt time.Time
	slot      chan Object
	once      sync.Once
}

// fulfil delivers data to the waiter. Only the first call has an effect.
func (p *pendingRequest) fulfil(data Object) bool {
	ok := false

	p.once.Do(func() {
		p.slot <- data
		ok = true
	})

	return ok
}

// Correlator implements data requests over the reserved channel: it tracks pending requests by
// correlation id and answers inbound requests from its responder table.
type Correlator struct {
	publisher *Publisher
	filterID  string
	timeout   time.Duration

	respMu     sync.RWMutex
	responders map[string]ResponderFunc

	pendMu  sync.Mutex
	pending map[string]*pendingRequest

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewCorrelator(p *Publisher, filterID string, timeout time.Duration, logger *slog.Logger) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Correlator{
		publisher:  p,
		filterID:   filterID,
		timeout:    timeout,
		responders: make(map[string]ResponderFunc),
		pending:    make(map[string]*pendingRequest),
		logger:     logging.OrDiscard(logger),
		tracer:     noop.NewTracerProvider().Tracer(""),
		now:        time.Now,
	}
}

// Respond registers fn under key. A later registration for the same key replaces it.
func (c *Correlator) Respond(key string, fn ResponderFunc) {
	c.respMu.Lock()
	c.responders[key] = fn
	c.respMu.Unlock()
}

// Request asks the process identified by target for the data registered under key and waits up
// to the request timeout for the answer.
//
// A missed deadline is not an error: the result has Received == false. Cancelling ctx returns the
// context error, and a failed publish returns an error wrapping ErrMessageFailure.
func (c *Correlator) Request(ctx context.Context, target, key string, data Object) (DataResponse, error) {
	id := uuid.NewString()

	ctx, span := c.tracer.Start(ctx, "channelbus.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("channelbus.request_id", id),
			attribute.String("channelbus.key", key),
			attribute.String("channelbus.target", target),
		),
	)
	defer span.End()

	raw, err := jsoncodec.MarshalString(requestEnvelope{
		ID: id, Key: key, Data: data, Sender: c.filterID, Stream: streamRequest,
	})
	if err != nil {
		err = fmt.Errorf("request %s: %w", key, errors.Join(berr.ErrSerializationFailed, err))
		c.fail(span, key, err)

		return DataResponse{}, err
	}

	pr := c.track(id)
	defer c.untrack(id)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	published := c.publisher.Publish(ctx, target, RequestChannel, raw)

	// A nil channel never fires; it stands in for a publish that already succeeded.
	pubDone := published.Done()

	for {
		select {
		case out := <-pr.slot:
			latency := c.now().Sub(pr.createdAt)
			c.metrics.observeRequest(key, requestOK, latency)

			return DataResponse{Data: out, Received: true, Latency: latency}, nil
		case <-pubDone:
			if _, err := published.Result(); err != nil {
				c.fail(span, key, err)
				return DataResponse{}, fmt.Errorf("request %s: %w", key, err)
			}

			pubDone = nil
		case <-timer.C:
			c.logger.DebugContext(ctx, "request timed out", "request_id", id, "key", key, "filter_id", target)
			c.metrics.observeRequest(key, requestTimeout, 0)

			return DataResponse{Received: false, Latency: c.now().Sub(pr.createdAt)}, nil
		case <-ctx.Done():
			c.metrics.observeRequest(key, requestCanceled, 0)
			span.SetStatus(codes.Error, ctx.Err().Error())

			return DataResponse{}, ctx.Err()
		}
	}
}

func (c *Correlator) fail(span trace.Span, key string, err error) {
	c.metrics.observeRequest(key, requestFailed, 0)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (c *Correlator) track(id string) *pendingRequest {
	pr := &pendingRequest{createdAt: c.now(), slot: make(chan Object, 1)}

	c.pendMu.Lock()
	c.pending[id] = pr
	n := len(c.pending)
	c.pendMu.Unlock()

	c.metrics.setPending(n)

	return pr
}

func (c *Correlator) untrack(id string) {
	c.pendMu.Lock()
	delete(c.pending, id)
	n := len(c.pending)
	c.pendMu.Unlock()

	c.metrics.setPending(n)
}

// Pending reports how many requests are awaiting a response.
func (c *Correlator) Pending() int {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()

	return len(c.pending)
}

// Receiver returns the handler for the reserved channel.
func (c *Correlator) Receiver() cbus.Receiver { return correlatorReceiver{c: c} }

type correlatorReceiver struct{ c *Correlator }

func (r correlatorReceiver) OnMessage(ctx context.Context, msg cbus.Message) error {
	var env requestEnvelope
	if err := jsoncodec.UnmarshalString(msg.Payload, &env); err != nil {
		return fmt.Errorf("decode data request: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	if env.ID == "" {
		return fmt.Errorf("decode data request: missing id: %w", berr.ErrSerializationFailed)
	}

	switch env.Stream {
	case streamRequest:
		return r.c.answer(ctx, env)
	case streamResponse:
		r.c.resolve(ctx, env)
		return nil
	default:
		return fmt.Errorf("decode data request %s: unknown stream %q: %w", env.ID, env.Stream, berr.ErrSerializationFailed)
	}
}

func (c *Correlator) answer(ctx context.Context, env requestEnvelope) error {
	c.respMu.RLock()
	fn, ok := c.responders[env.Key]
	c.respMu.RUnlock()

	if !ok {
		c.logger.DebugContext(ctx, "no responder", "request_id", env.ID, "key", env.Key)
		return nil
	}

	out, err := fn(ctx, env.Data)
	if err != nil {
		return fmt.Errorf("respond %s: %w", env.Key, err)
	}

	raw, err := jsoncodec.MarshalString(requestEnvelope{
		ID: env.ID, Key: env.Key, Data: out, Sender: responseSender, Stream: streamResponse,
	})
	if err != nil {
		return fmt.Errorf("respond %s: %w", env.Key, errors.Join(berr.ErrSerializationFailed, err))
	}

	c.publisher.Publish(ctx, env.Sender, RequestChannel, raw).OnDone(func(err error) {
		if err != nil {
			c.logger.Warn("response not delivered", "request_id", env.ID, "key", env.Key, "filter_id", env.Sender, "error", err)
		}
	})

	return nil
}

func (c *Correlator) resolve(ctx context.Context, env requestEnvelope) {
	c.pendMu.Lock()
	pr, ok := c.pending[env.ID]
	c.pendMu.Unlock()

	if !ok || !pr.fulfil(env.Data) {
		c.logger.DebugContext(ctx, "discarding response", "request_id", env.ID, "key", env.Key)
	}
}
