package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/next-trace/scg-channel-bus/adapters/inmemory"
	"github.com/next-trace/scg-channel-bus/adapters/kafka"
	natsadapter "github.com/next-trace/scg-channel-bus/adapters/nats"
	"github.com/next-trace/scg-channel-bus/adapters/rabbitmq"
	redisadapter "github.com/next-trace/scg-channel-bus/adapters/redis"
	wmadapter "github.com/next-trace/scg-channel-bus/adapters/watermill"
	"github.com/next-trace/scg-channel-bus/config"
	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	berr "github.com/next-trace/scg-channel-bus/contract/errors"
)

// openTransport connects the transport cfg selects. The bus closes the transport itself; the
// returned release frees whatever the transport's Close leaves behind and is always non-nil.
func openTransport(ctx context.Context, cfg config.Config, logger *slog.Logger) (cbus.Transport, func(), error) {
	noop := func() {}
	name := "channelbus-" + cfg.FilterID

	switch strings.ToLower(cfg.Transport) {
	case config.TransportMemory:
		return inmemory.New(), noop, nil
	case config.TransportGoChannel:
		return wmadapter.NewGoChannel(logger), noop, nil
	case config.TransportRedis:
		ad, _, err := redisadapter.NewWithRedis(ctx, redisadapter.Config{URL: cfg.RedisURL, ClientName: name})
		if err != nil {
			return nil, nil, err
		}

		return ad, noop, nil
	case config.TransportNATS:
		ad, release, err := natsadapter.NewWithNATS(natsadapter.Config{URL: cfg.NATSURL, Name: name})
		if err != nil {
			return nil, nil, err
		}

		return ad, release, nil
	case config.TransportWatermillNATS:
		ad, err := wmadapter.NewNATS(cfg.NATSURL, logger)
		if err != nil {
			return nil, nil, err
		}

		return ad, noop, nil
	case config.TransportRabbitMQ:
		ad, _, err := rabbitmq.NewWithAMQPConn(rabbitmq.Config{URL: cfg.RabbitMQURL})
		if err != nil {
			return nil, nil, err
		}

		return ad, noop, nil
	case config.TransportKafka:
		clientID := cfg.KafkaClientID
		if clientID == "" {
			clientID = name
		}

		ad, _, err := kafka.NewWithKgo(kafka.Config{Brokers: cfg.KafkaBrokers, ClientID: clientID, Logger: logger})
		if err != nil {
			return nil, nil, err
		}

		return ad, noop, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported transport %q", berr.ErrTransportNotConfigured, cfg.Transport)
	}
}
