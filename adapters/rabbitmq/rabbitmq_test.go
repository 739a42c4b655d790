package rabbitmq_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/next-trace/scg-channel-bus/adapters/rabbitmq"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
)

type fakePublisher struct {
	calls []rabbitmq.PubMsg
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, m rabbitmq.PubMsg) error {
	f.calls = append(f.calls, m)
	return f.err
}

type fakeSession struct {
	mu      sync.Mutex
	bound   []string
	bindErr error
	out     chan rabbitmq.Inbound
	err     error
	once    sync.Once
}

func newFakeSession() *fakeSession { return &fakeSession{out: make(chan rabbitmq.Inbound, 8)} }

func (s *fakeSession) Bind(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bindErr != nil {
		return s.bindErr
	}

	s.bound = append(s.bound, key)

	return nil
}

func (s *fakeSession) Messages() <-chan rabbitmq.Inbound { return s.out }
func (s *fakeSession) Err() error                        { return s.err }

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.out) })
	return nil
}

func (s *fakeSession) binds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.bound...)
}

type fakeDialer struct {
	session *fakeSession
	err     error
}

func (d fakeDialer) Open(context.Context) (rabbitmq.Session, error) {
	if d.err != nil {
		return nil, d.err
	}

	return d.session, nil
}

func TestRabbitMQ_PublishRoutesByChannel(t *testing.T) {
	fp := &fakePublisher{}
	ad := rabbitmq.New(fp, nil)

	if err := ad.Publish(t.Context(), "orders", "all;x"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fp.calls) != 1 {
		t.Fatalf("want 1, got %d", len(fp.calls))
	}

	c := fp.calls[0]
	if c.Exchange != rabbitmq.Exchange || c.RoutingKey != "orders" || string(c.Body) != "all;x" {
		t.Fatalf("unexpected message: %+v", c)
	}
}

func TestRabbitMQ_PropagatorInjectsTraceContext(t *testing.T) {
	fp := &fakePublisher{}
	ad := rabbitmq.NewWithPropagator(fp, nil, propagation.TraceContext{})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(t.Context(), sc)

	if err := ad.Publish(ctx, "orders", "all;x"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if fp.calls[0].Headers["traceparent"] == "" {
		t.Fatalf("traceparent header missing: %+v", fp.calls[0].Headers)
	}
}

func TestRabbitMQ_PublishErrors(t *testing.T) {
	if err := rabbitmq.New(nil, nil).Publish(t.Context(), "c", "x"); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}

	ad := rabbitmq.New(&fakePublisher{err: errors.New("channel closed")}, nil)
	if err := ad.Publish(t.Context(), "c", "x"); !errors.Is(err, berr.ErrMessageFailure) {
		t.Fatalf("want ErrMessageFailure, got %v", err)
	}

	ad = rabbitmq.New(&fakePublisher{err: context.DeadlineExceeded}, nil)
	if err := ad.Publish(t.Context(), "c", "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := ad.Publish(ctx, "c", "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestRabbitMQ_SubscribeBindsAndDelivers(t *testing.T) {
	sess := newFakeSession()
	ad := rabbitmq.New(nil, fakeDialer{session: sess})

	sub, err := ad.Subscribe(t.Context(), "a", "b")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := sub.Add(t.Context(), "b", "c"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if got := sess.binds(); len(got) != 3 {
		t.Fatalf("want 3 bindings, got %v", got)
	}

	sess.out <- rabbitmq.Inbound{RoutingKey: "a", Body: []byte("all;x")}

	select {
	case d := <-sub.Deliveries():
		if d.Channel != "a" || d.Payload != "all;x" {
			t.Fatalf("unexpected delivery: %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatalf("no delivery")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, ok := <-sub.Deliveries(); ok {
		t.Fatalf("deliveries should be closed")
	}
}

func TestRabbitMQ_SessionFailureEndsSubscription(t *testing.T) {
	sess := newFakeSession()
	sess.err = errors.New("connection reset")
	ad := rabbitmq.New(nil, fakeDialer{session: sess})

	sub, err := ad.Subscribe(t.Context(), "a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = sess.Close()

	for range sub.Deliveries() {
	}

	if !errors.Is(sub.Err(), sess.err) {
		t.Fatalf("want session error, got %v", sub.Err())
	}
}

func TestRabbitMQ_SubscribeErrors(t *testing.T) {
	if _, err := rabbitmq.New(nil, nil).Subscribe(t.Context(), "a"); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}

	ad := rabbitmq.New(nil, fakeDialer{err: errors.New("refused")})
	if _, err := ad.Subscribe(t.Context(), "a"); !errors.Is(err, berr.ErrCouldNotConnect) {
		t.Fatalf("want ErrCouldNotConnect, got %v", err)
	}

	sess := newFakeSession()
	sess.bindErr = errors.New("access refused")

	ad = rabbitmq.New(nil, fakeDialer{session: sess})
	if _, err := ad.Subscribe(t.Context(), "a"); !errors.Is(err, berr.ErrCouldNotConnect) {
		t.Fatalf("want ErrCouldNotConnect, got %v", err)
	}
}

func TestRabbitMQ_CloseRunsCleanupOnce(t *testing.T) {
	ad := rabbitmq.New(nil, nil)

	calls := 0
	ad.OnClose(func() { calls++ })

	_ = ad.Close()
	_ = ad.Close()

	if calls != 1 {
		t.Fatalf("want 1 cleanup call, got %d", calls)
	}
}
