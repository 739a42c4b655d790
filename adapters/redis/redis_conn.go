package redis

import (
	"context"
	"fmt"
	"net/url"
	"time"

	goredis "github.com/redis/go-redis/v9"

	berr "github.com/next-trace/scg-channel-bus/contract/errors"
)

// Concrete go-redis backed client and constructor.

type Config struct {
	// URL is redis://[user:pass@]host:port[/db] or rediss:// for TLS.
	URL         string
	ClientName  string
	DialTimeout time.Duration
}

// String returns the config with the password masked.
func (c Config) String() string {
	return fmt.Sprintf("redis(url=%s client=%s)", Redact(c.URL), c.ClientName)
}

// Credentials are the username and password carried in a Redis URL.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) String() string {
	if c.Password == "" {
		return c.Username
	}

	return c.Username + ":xxxxx"
}

func (c Credentials) GoString() string { return "redis.Credentials{" + c.String() + "}" }

// Redact masks the password of a Redis URL. Unparseable input is hidden entirely.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}

	return u.Redacted()
}

// ParseURL turns a Redis URL into client options and the credentials it carries.
func ParseURL(raw string) (*goredis.Options, Credentials, error) {
	if raw == "" {
		return nil, Credentials{}, fmt.Errorf("%w: redis url required", berr.ErrTransportNotConfigured)
	}

	opts, err := goredis.ParseURL(raw)
	if err != nil {
		return nil, Credentials{}, fmt.Errorf("%w: redis url %s: %w", berr.ErrTransportNotConfigured, Redact(raw), err)
	}

	return opts, Credentials{Username: opts.Username, Password: opts.Password}, nil
}

type redisClient struct{ rdb *goredis.Client }

func (c redisClient) Publish(ctx context.Context, channel, payload string) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

func (c redisClient) Subscribe(ctx context.Context, channels ...string) (PubSub, error) {
	ps := c.rdb.Subscribe(ctx, channels...)

	if len(channels) > 0 {
		// wait for the first confirmation so connection problems surface here
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, err
		}
	}

	return redisPubSub{ps}, nil
}

type redisPubSub struct{ *goredis.PubSub }

func (p redisPubSub) Channel() <-chan *goredis.Message { return p.PubSub.Channel() }

func (c redisClient) Close() error { return c.rdb.Close() }

// NewWithRedis connects to Redis and returns an Adapter and a cleanup.
func NewWithRedis(ctx context.Context, cfg Config) (*Adapter, func(), error) {
	opts, _, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}

	if cfg.ClientName != "" {
		opts.ClientName = cfg.ClientName
	}

	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	rdb := goredis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("%w: redis ping %s: %w", berr.ErrCouldNotConnect, Redact(cfg.URL), err)
	}

	ad := New(redisClient{rdb: rdb})
	cleanup := func() { _ = ad.Close() }

	return ad, cleanup, nil
}
