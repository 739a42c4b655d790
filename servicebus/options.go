package servicebus

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// DefaultFilterID identifies a process that did not choose its own filter id.
const DefaultFilterID = "proxy"

// Option configures a Bus instance.
type Option func(*Bus)

// WithFilterID sets the id this process answers to besides the broadcast sentinel.
func WithFilterID(id string) Option { return func(b *Bus) { b.filterID = id } }

func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.logger = l } }

// WithPublishWorkers sets the number of goroutines handing messages to the transport.
func WithPublishWorkers(n int) Option { return func(b *Bus) { b.workers = n } }

// WithPublishQueue sets how many messages may wait for a publish worker.
func WithPublishQueue(n int) Option { return func(b *Bus) { b.queue = n } }

// WithPublishTimeout bounds a single transport publish.
func WithPublishTimeout(d time.Duration) Option { return func(b *Bus) { b.publishTimeout = d } }

// WithRequestTimeout sets how long Request waits for a response.
func WithRequestTimeout(d time.Duration) Option { return func(b *Bus) { b.requestTimeout = d } }

// WithMetrics records bus activity on m. The caller registers m.
func WithMetrics(m *Metrics) Option { return func(b *Bus) { b.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(b *Bus) { b.tracer = t } }
