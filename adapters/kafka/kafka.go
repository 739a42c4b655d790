// Package kafka provides a Kafka transport for the channel bus. Channels map 1:1 to topics.
//
// Subscriptions consume without a consumer group, starting at the end of each partition, so
// every process sees every record published after it started listening.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/internal/feed"
)

// Writer is a minimal Kafka-like writer interface.
// Users can adapt franz-go or any other client to this.
type Writer interface {
	Write(ctx context.Context, topic string, value []byte) error
}

type Record struct {
	Topic string
	Value []byte
}

// Consumer polls records for a growing set of topics.
type Consumer interface {
	// Poll blocks until records are available or ctx is done. ErrConsumerClosed ends the stream;
	// any other error ends it with ErrCouldNotConnect once the returned records are delivered.
	Poll(ctx context.Context) ([]Record, error)
	AddTopics(topics ...string)
	Close()
}

// Reader opens consumers positioned at the end of the given topics.
type Reader interface {
	Open(topics []string) (Consumer, error)
}

var ErrConsumerClosed = errors.New("kafka consumer closed")

// Adapter implements cbus.Transport using an injected Writer and Reader.
type Adapter struct {
	Writer Writer
	Reader Reader

	closeMu sync.Mutex
	cleanup func()
}

var _ cbus.Transport = (*Adapter)(nil)

// New creates a new Kafka adapter instance with the provided writer and reader.
func New(w Writer, r Reader) *Adapter { return &Adapter{Writer: w, Reader: r} }

func (a *Adapter) Publish(ctx context.Context, channel, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka publish: %w", berr.ErrTransportNotConfigured)
	}

	if err := a.Writer.Write(ctx, channel, []byte(payload)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// separate return from preceding multi-line block (wsl)
		return fmt.Errorf("kafka publish write %s: %w", channel, errors.Join(berr.ErrMessageFailure, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channels ...string) (cbus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Reader == nil {
		return nil, fmt.Errorf("kafka subscribe: %w", berr.ErrTransportNotConfigured)
	}

	c, err := a.Reader.Open(channels)
	if err != nil {
		return nil, fmt.Errorf("kafka subscribe: %w", errors.Join(berr.ErrCouldNotConnect, err))
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &subscription{consumer: c, feed: feed.New(0), cancel: cancel, done: make(chan struct{})}

	go s.pump(pollCtx)

	return s, nil
}

// Close releases the producing client. Subscriptions own their consumers.
func (a *Adapter) Close() error {
	a.closeMu.Lock()
	fn := a.cleanup
	a.cleanup = nil
	a.closeMu.Unlock()

	if fn != nil {
		fn()
	}

	return nil
}

type subscription struct {
	consumer Consumer
	feed     *feed.Feed
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

func (s *subscription) pump(ctx context.Context) {
	defer close(s.done)

	for {
		recs, err := s.consumer.Poll(ctx)
		for _, r := range recs {
			if !s.feed.Push(cbus.Delivery{Channel: r.Topic, Payload: string(r.Value)}) {
				return
			}
		}

		switch {
		case err == nil:
		case ctx.Err() != nil || errors.Is(err, ErrConsumerClosed):
			s.feed.Stop(nil)
			return
		default:
			s.feed.Stop(fmt.Errorf("kafka poll: %w", errors.Join(berr.ErrCouldNotConnect, err)))
			return
		}
	}
}

func (s *subscription) Deliveries() <-chan cbus.Delivery { return s.feed.Deliveries() }

func (s *subscription) Err() error { return s.feed.Err() }

func (s *subscription) Add(_ context.Context, channels ...string) error {
	s.consumer.AddTopics(channels...)
	return nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.feed.Stop(nil)
		s.cancel()
		<-s.done
		s.consumer.Close()
	})

	return nil
}
