package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-channel-bus/contract/errors"
)

// Concrete NATS connection-backed Client and constructor.

type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
}

type natsClient struct{ nc *nats.Conn }

func (c natsClient) Publish(subject string, data []byte) error {
	if err := c.nc.Publish(subject, data); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c natsClient) Subscribe(subject string, cb func(subject string, data []byte)) (Unsubscriber, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) { cb(m.Subject, m.Data) })
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// NewWithNATS creates a real NATS connection and returns an Adapter and a cleanup.
// When the connection closes for good every open subscription ends with ErrCouldNotConnect.
func NewWithNATS(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrTransportNotConfigured)
	}

	var ad *Adapter

	opts := []nats.Option{
		nats.ClosedHandler(func(*nats.Conn) {
			if ad != nil {
				ad.Fail(fmt.Errorf("%w: nats connection closed", berr.ErrCouldNotConnect))
			}
		}),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrCouldNotConnect, err)
	}

	ad = New(natsClient{nc: nc})
	cleanup := func() {
		if nc != nil && !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return ad, cleanup, nil
}
