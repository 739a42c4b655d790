package servicebus

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values for received messages.
const (
	outcomeDispatched   = "dispatched"
	outcomeFiltered     = "filtered"
	outcomeUnregistered = "unregistered"
	outcomeMalformed    = "malformed"
	outcomeFailed       = "failed"
)

// Outcome label values for requests.
const (
	requestOK       = "ok"
	requestTimeout  = "timeout"
	requestFailed   = "failed"
	requestCanceled = "canceled"
)

// Metrics exposes Prometheus collectors for a Bus. A nil *Metrics records nothing.
type Metrics struct {
	mu sync.Mutex

	published *prometheus.CounterVec
	received  *prometheus.CounterVec
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	pending   prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

// NewMetrics creates the collectors. A nil registerer selects prometheus.DefaultRegisterer.
// Collectors are not registered until Register is called.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer: registerer,
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelbus",
			Subsystem: "messages",
			Name:      "published_total",
			Help:      "Messages handed to the transport, by channel and result.",
		}, []string{"channel", "result"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelbus",
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Messages delivered by the subscription, by channel and routing outcome.",
		}, []string{"channel", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelbus",
			Subsystem: "requests",
			Name:      "total",
			Help:      "Data requests issued, by responder key and outcome.",
		}, []string{"key", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "channelbus",
			Subsystem: "requests",
			Name:      "latency_seconds",
			Help:      "Time from issuing a data request to receiving its response.",
			Buckets:   []float64{.001, .002, .005, .01, .02, .05, .1, .25, .5, 1},
		}, []string{"key"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "channelbus",
			Subsystem: "requests",
			Name:      "pending",
			Help:      "Data requests currently awaiting a response.",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{m.published, m.received, m.requests, m.latency, m.pending}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}

	m.registered = true

	return nil
}

func (m *Metrics) observePublish(channel string, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.published.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) observeReceive(channel, outcome string) {
	if m == nil {
		return
	}

	m.received.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) observeRequest(key, outcome string, latency time.Duration) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(key, outcome).Inc()

	if outcome == requestOK {
		m.latency.WithLabelValues(key).Observe(latency.Seconds())
	}
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}

	m.pending.Set(float64(n))
}
