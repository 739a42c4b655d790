package watermill

import (
	"fmt"
	"log/slog"

	wm "github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	berr "github.com/next-trace/scg-channel-bus/contract/errors"
	"github.com/next-trace/scg-channel-bus/internal/logging"
)

const goChannelBuffer = 64

// Logger adapts l for Watermill components.
func Logger(l *slog.Logger) wm.LoggerAdapter {
	return wm.NewSlogLogger(logging.OrDiscard(l))
}

// NewGoChannel returns a loopback transport on Watermill's in-process pub/sub.
func NewGoChannel(l *slog.Logger) *Adapter {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: goChannelBuffer}, Logger(l))
	return New(pubSub, pubSub)
}

// NATSPublisherFactory and NATSSubscriberFactory allow overriding client creation in tests.
var (
	NATSPublisherFactory = func(cfg wmnats.PublisherConfig, logger wm.LoggerAdapter) (message.Publisher, error) {
		return wmnats.NewPublisher(cfg, logger)
	}
	NATSSubscriberFactory = func(cfg wmnats.SubscriberConfig, logger wm.LoggerAdapter) (message.Subscriber, error) {
		return wmnats.NewSubscriber(cfg, logger)
	}
)

// NewNATS returns a transport on core NATS through watermill-nats. Subscribers use no queue
// group, so every process receives every message.
func NewNATS(url string, l *slog.Logger) (*Adapter, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: nats url required", berr.ErrTransportNotConfigured)
	}

	logger := Logger(l)
	marshaler := &wmnats.NATSMarshaler{}
	core := wmnats.JetStreamConfig{Disabled: true}

	publisher, err := NATSPublisherFactory(
		wmnats.PublisherConfig{
			URL:       url,
			Marshaler: marshaler,
			JetStream: core,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: watermill nats publisher: %w", berr.ErrCouldNotConnect, err)
	}

	subscriber, err := NATSSubscriberFactory(
		wmnats.SubscriberConfig{
			URL:         url,
			Unmarshaler: marshaler,
			JetStream:   core,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("%w: watermill nats subscriber: %w", berr.ErrCouldNotConnect, err)
	}

	return New(publisher, subscriber), nil
}
