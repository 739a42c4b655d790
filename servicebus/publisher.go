package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/envelope"
	"github.com/next-trace/scg-channel-bus/internal/logging"
)

const (
	defaultPublishWorkers = 4
	defaultPublishQueue   = 1024
	defaultPublishTimeout = 2 * time.Second
)

type publishJob struct {
	ctx     context.Context
	channel string
	raw     string
	done    *Completion
}

// Publisher hands messages to the transport on a fixed pool of workers. Publish never blocks on
// the network; the returned Completion reports the outcome.
type Publisher struct {
	targetMu sync.RWMutex
	target   cbus.Publisher

	// RLock is held while enqueueing; Close takes the write lock before close(jobs).
	mu     sync.RWMutex
	closed bool

	jobs    chan publishJob
	wg      sync.WaitGroup
	timeout time.Duration

	logger  *slog.Logger
	metrics *Metrics
}

// NewPublisher starts workers goroutines publishing through target.
func NewPublisher(target cbus.Publisher, workers, queue int, timeout time.Duration, logger *slog.Logger, m *Metrics) *Publisher {
	if workers <= 0 {
		workers = defaultPublishWorkers
	}

	if queue <= 0 {
		queue = defaultPublishQueue
	}

	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	p := &Publisher{
		target:  target,
		jobs:    make(chan publishJob, queue),
		timeout: timeout,
		logger:  logging.OrDiscard(logger),
		metrics: m,
	}

	p.wg.Add(workers)

	for range workers {
		go p.work()
	}

	return p
}

// Publish sends message on channel addressed to filterID.
func (p *Publisher) Publish(ctx context.Context, filterID, channel, message string) *Completion {
	if err := envelope.CheckFilterID(filterID); err != nil {
		return completed(fmt.Errorf("publish %s: %w", channel, err))
	}

	if channel == "" {
		return completed(fmt.Errorf("publish: %w", berr.ErrChannelNameRequired))
	}

	raw := envelope.Encode(filterID, message)

	return p.enqueue(ctx, channel, raw)
}

// Broadcast sends message on channel to every listening process.
func (p *Publisher) Broadcast(ctx context.Context, channel, message string) *Completion {
	return p.Publish(ctx, envelope.Broadcast, channel, message)
}

func (p *Publisher) enqueue(ctx context.Context, channel, raw string) *Completion {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return completed(fmt.Errorf("publish %s: %w", channel, berr.ErrBusClosed))
	}

	if err := ctx.Err(); err != nil {
		return completed(fmt.Errorf("publish %s: %w", channel, errors.Join(berr.ErrMessageFailure, err)))
	}

	job := publishJob{ctx: ctx, channel: channel, raw: raw, done: newCompletion()}

	select {
	case p.jobs <- job:
		return job.done
	case <-ctx.Done():
		return completed(fmt.Errorf("publish %s: %w", channel, errors.Join(berr.ErrMessageFailure, ctx.Err())))
	}
}

func (p *Publisher) work() {
	defer p.wg.Done()

	for job := range p.jobs {
		err := p.send(job)
		p.metrics.observePublish(job.channel, err)

		if err != nil {
			p.logger.WarnContext(job.ctx, "publish failed", "channel", job.channel, "error", err)
		}

		job.done.complete(err)
	}
}

func (p *Publisher) send(job publishJob) error {
	p.targetMu.RLock()
	target := p.target
	p.targetMu.RUnlock()

	if target == nil {
		return fmt.Errorf("publish %s: %w", job.channel, errors.Join(berr.ErrMessageFailure, berr.ErrTransportNotConfigured))
	}

	// The caller may have returned already; only its values carry over.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(job.ctx), p.timeout)
	defer cancel()

	if err := target.Publish(ctx, job.channel, job.raw); err != nil {
		return fmt.Errorf("publish %s: %w", job.channel, errors.Join(berr.ErrMessageFailure, err))
	}

	return nil
}

func (p *Publisher) setTarget(target cbus.Publisher) {
	p.targetMu.Lock()
	p.target = target
	p.targetMu.Unlock()
}

// Close stops accepting messages and waits for queued ones to finish.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}
