// Package kv is the key-value layer used for live campaign progress and run locks.
package kv

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/env"
	"github.com/pure-golang/bulkmail/kv/memory"
	"github.com/pure-golang/bulkmail/kv/redis"
)

// Provider selects the Store implementation.
type Provider string

const (
	ProviderRedis  Provider = "redis"
	ProviderMemory Provider = "memory"
)

// Config is the environment configuration of the Store.
type Config struct {
	Provider          Provider      `envconfig:"KV_PROVIDER" default:"memory"`
	RedisAddr         string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD"`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`
	RedisMaxRetries   int           `envconfig:"REDIS_MAX_RETRIES" default:"3"`
	RedisDialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	RedisReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	RedisWriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
	RedisPoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
}

// Store is the subset of key-value operations bulkmail needs.
// Get and HGetAll on a missing key return ErrKeyNotFound and an empty map respectively.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// SetNX sets key only when it does not exist and reports whether it was set.
	SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, expiration time.Duration) error

	HSet(ctx context.Context, key string, values map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*redis.Client)(nil)
	_ Store = (*memory.Store)(nil)
)

// ErrKeyNotFound is returned by Get for a missing key.
var ErrKeyNotFound = redis.ErrKeyNotFound

// IsNotFound reports whether err means a missing key in any implementation.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.ErrKeyNotFound) || errors.Is(err, memory.ErrKeyNotFound)
}

// New creates a Store for cfg.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Provider {
	case ProviderRedis:
		return redis.Connect(ctx, redis.Config{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			MaxRetries:   cfg.RedisMaxRetries,
			DialTimeout:  cfg.RedisDialTimeout,
			ReadTimeout:  cfg.RedisReadTimeout,
			WriteTimeout: cfg.RedisWriteTimeout,
			PoolSize:     cfg.RedisPoolSize,
		})
	case ProviderMemory, "":
		return memory.NewStore(nil), nil
	default:
		return nil, errors.Errorf("unknown kv provider: %s", cfg.Provider)
	}
}

// NewDefault creates a Store from the environment.
func NewDefault(ctx context.Context) (Store, error) {
	var cfg Config
	if err := env.InitConfig(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to init config")
	}
	return New(ctx, cfg)
}
