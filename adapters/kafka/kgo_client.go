package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/internal/logging"
)

// Concrete franz-go based constructor, writer and reader wrappers.

type SASLConfig struct {
	Mechanism string // only PLAIN is supported
	Username  string
	Password  string
}

type Config struct {
	Brokers  []string
	TLS      *tls.Config
	SASL     *SASLConfig
	ClientID string

	// Acks is "all" (default), "leader" or "none". Anything but "all" disables idempotent writes.
	Acks string
	// Compression is "", "none", "gzip", "snappy", "lz4" or "zstd".
	Compression string

	// Logger receives fetch errors the client retries on its own.
	Logger *slog.Logger
}

func (cfg Config) producerOpts() ([]kgo.Opt, error) {
	var opts []kgo.Opt

	switch strings.ToLower(cfg.Acks) {
	case "", "all":
	case "leader":
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	case "none":
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	default:
		return nil, fmt.Errorf("%w: unsupported acks %q", berr.ErrTransportNotConfigured, cfg.Acks)
	}

	switch strings.ToLower(cfg.Compression) {
	case "":
	case "none":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.NoCompression()))
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	default:
		return nil, fmt.Errorf("%w: unsupported compression %q", berr.ErrTransportNotConfigured, cfg.Compression)
	}

	return opts, nil
}

func (cfg Config) baseOpts() ([]kgo.Opt, error) {
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		if !strings.EqualFold(cfg.SASL.Mechanism, "PLAIN") {
			return nil, fmt.Errorf("%w: unsupported SASL mechanism %q", berr.ErrTransportNotConfigured, cfg.SASL.Mechanism)
		}

		opts = append(opts, kgo.SASL(plain.Auth{User: cfg.SASL.Username, Pass: cfg.SASL.Password}.AsMechanism()))
	}

	return opts, nil
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, topic string, value []byte) error {
	return w.cl.ProduceSync(ctx, &kgo.Record{Topic: topic, Value: value}).FirstErr()
}

type kgoReader struct{ cfg Config }

func (r kgoReader) Open(topics []string) (Consumer, error) {
	opts, err := r.cfg.baseOpts()
	if err != nil {
		return nil, err
	}

	opts = append(opts,
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	return kgoConsumer{cl: cl, logger: logging.OrDiscard(r.cfg.Logger)}, nil
}

// fetchPoller is the part of *kgo.Client a consumer needs.
type fetchPoller interface {
	PollFetches(ctx context.Context) kgo.Fetches
	AddConsumeTopics(topics ...string)
	Close()
}

type kgoConsumer struct {
	cl     fetchPoller
	logger *slog.Logger
}

// Poll returns the fetched records together with any fetch error the client will not recover
// from. Retriable errors and data loss notices are logged and polling continues.
func (c kgoConsumer) Poll(ctx context.Context) ([]Record, error) {
	fetches := c.cl.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, ErrConsumerClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Record

	fetches.EachRecord(func(rec *kgo.Record) {
		out = append(out, Record{Topic: rec.Topic, Value: rec.Value})
	})

	return out, c.fetchErrors(ctx, fetches)
}

func (c kgoConsumer) fetchErrors(ctx context.Context, fetches kgo.Fetches) error {
	var fatal []error

	for _, fe := range fetches.Errors() {
		var (
			ke   *kerr.Error
			loss *kgo.ErrDataLoss
		)

		switch {
		case errors.Is(fe.Err, context.Canceled), errors.Is(fe.Err, context.DeadlineExceeded):
		case errors.As(fe.Err, &loss), errors.As(fe.Err, &ke) && ke.Retriable:
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", fe.Topic, "partition", fe.Partition, "error", fe.Err)
		default:
			fatal = append(fatal, fmt.Errorf("fetch %s/%d: %w", fe.Topic, fe.Partition, fe.Err))
		}
	}

	return errors.Join(fatal...)
}

func (c kgoConsumer) AddTopics(topics ...string) { c.cl.AddConsumeTopics(topics...) }

func (c kgoConsumer) Close() { c.cl.Close() }

// NewWithKgo builds a franz-go client based Adapter. The returned cleanup should be called to close the client.
func NewWithKgo(cfg Config) (*Adapter, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrTransportNotConfigured)
	}

	opts, err := cfg.baseOpts()
	if err != nil {
		return nil, nil, err
	}

	popts, err := cfg.producerOpts()
	if err != nil {
		return nil, nil, err
	}

	opts = append(opts, popts...)
	opts = append(opts, kgo.AllowAutoTopicCreation())

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrCouldNotConnect, err)
	}

	ad := New(kgoWriter{cl: cl}, kgoReader{cfg: cfg})
	cleanup := func() { cl.Close() }
	ad.cleanup = cleanup

	return ad, cleanup, nil
}
