// Package redis implements the cache, lock, rate limit and signal bus
// interfaces on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// defaultClientName tags every connection in CLIENT LIST.
const defaultClientName = "yieldd"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	// Addr is host:port of the server holding market views, locks and the
	// event stream.
	Addr string

	// Password is the AUTH password; empty for none.
	Password string

	// DB selects the logical database.
	DB int

	// PoolSize caps open connections. API handlers, the rate limiter and
	// the stream sink share the pool.
	PoolSize int

	// MaxRetries is how often a failed command is retried before the error
	// reaches the caller.
	MaxRetries int

	// TLSEnabled dials with TLS 1.2 or later.
	TLSEnabled bool

	// ClientName tags the connections; defaults to "yieldd".
	ClientName string
}

// Client wraps a go-redis client.
type Client struct {
	rdb  *redis.Client
	addr string
}

// New connects and pings; an unreachable server is an error.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	name := cfg.ClientName
	if name == "" {
		name = defaultClientName
	}
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: name,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{rdb: redis.NewClient(opts), addr: cfg.Addr}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Ping checks the connection. It backs the redis entry of the health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw driver client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
