// Package redis implements kv.Store on go-redis.
package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	rclient "github.com/redis/go-redis/v9"

	"github.com/pure-golang/bulkmail/logger"
)

// Client is a traced Redis client.
type Client struct {
	rdb *rclient.Client
	cfg Config
}

// Connect opens a connection pool and pings the server.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	log := logger.FromContext(ctx).WithGroup("redis")
	log.Debug("connecting to redis", "addr", cfg.Addr)

	c := &Client{
		rdb: rclient.NewClient(&rclient.Options{
			Addr:            cfg.Addr,
			Password:        cfg.Password,
			DB:              cfg.DB,
			MaxRetries:      cfg.MaxRetries,
			MinRetryBackoff: cfg.MinRetryBackoff,
			MaxRetryBackoff: cfg.MaxRetryBackoff,
			DialTimeout:     cfg.DialTimeout,
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			PoolSize:        cfg.PoolSize,
		}),
		cfg: cfg,
	}

	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}

	log.Info("connected to redis", "addr", cfg.Addr)
	return c, nil
}

// Close closes the pool. Closing twice is not an error.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	err := c.rdb.Close()
	c.rdb = nil
	if err != nil && !errors.Is(err, rclient.ErrClosed) {
		return errors.Wrap(err, "failed to close redis connection")
	}
	return nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) (err error) {
	ctx, span := startSpan(ctx, "Ping", "", c.cfg.DB)
	defer func() { finish(span, err); span.End() }()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "failed to ping redis")
	}
	return nil
}

// Get returns the value of key.
func (c *Client) Get(ctx context.Context, key string) (val string, err error) {
	ctx, span := startSpan(ctx, "Get", key, c.cfg.DB)
	defer func() { finish(span, err); span.End() }()

	val, err = c.rdb.Get(ctx, key).Result()
	if errors.Is(err, rclient.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to get key %q", key)
	}
	return val, nil
}

// Set stores value with an optional TTL.
func (c *Client) Set(ctx context.Context, key string, value string, expiration time.Duration) (err error) {
	ctx, span := startSpan(ctx, "Set", key, c.cfg.DB)
	defer func() { finish(span, err); span.End() }()

	if err := c.rdb.Set(ctx, key, value, expiration).Err(); err != nil {
		return errors.Wrapf(err, "failed to set key %q", key)
	}
	return nil
}

// SetNX stores value only when key does not exist.
func (c *Client) SetNX(ctx context.Context, key string, value string, expiration time.Duration) (ok bool, err error) {
	ctx, span := startSpan(ctx, "SetNX", key, c.cfg.DB)
	defer func() { finish(span, err); span.End() }()

	ok, err = c.rdb.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to setnx key %q", key)
	}
	return ok, nil
}

// Delete removes keys.
func (c *Client) Delete(ctx context.Context, keys ...string) (err error) {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "Delete", "", c.cfg.DB)
	defer func() { finish(span, err); span.End() }()

	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "failed to delete keys")
	}
	return nil
}

// Expire sets the TTL of key.
func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) (err error) {
	ctx, span := startSpan(ctx, "Expire", key, c.cfg.DB)
	defer func() { finish(span, err); span.End() }()

	if err := c.rdb.Expire(ctx, key, expiration).Err(); err != nil {
		return errors.Wrapf(err, "failed to set expiration for key %q", key)
	}
	return nil
}

// HSet merges values into the hash at key.
func (c *Client) HSet(ctx context.Context, key string, values map[string]string) (err error) {
	if len(values) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "HSet", key, c.cfg.DB)
	defer func() { finish(span, err); span.End() }()

	if err := c.rdb.HSet(ctx, key, values).Err(); err != nil {
		return errors.Wrapf(err, "failed to set hash fields in key %q", key)
	}
	return nil
}

// HGetAll returns all fields of the hash at key.
func (c *Client) HGetAll(ctx context.Context, key string) (val map[string]string, err error) {
	ctx, span := startSpan(ctx, "HGetAll", key, c.cfg.DB)
	defer func() { finish(span, err); span.End() }()

	val, err = c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get hash fields from key %q", key)
	}
	return val, nil
}
