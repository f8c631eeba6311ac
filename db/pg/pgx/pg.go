// Package pgx is the pgxpool connection used by the campaign store.
package pgx

import (
	"context"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/multitracer"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/pkg/errors"
)

// DB is a connection pool.
type DB struct {
	*pgxpool.Pool
}

// Options configures Connect.
type Options struct {
	Tracers []pgx.QueryTracer
}

// Connect opens a pool and pings the server.
func Connect(ctx context.Context, cfg Config, options *Options) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL().String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse postgres config")
	}

	if cfg.MaxConns < 1 {
		cfg.MaxConns = 1
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	if options != nil && len(options.Tracers) > 0 {
		poolCfg.ConnConfig.Tracer = multitracer.New(options.Tracers...)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	return &DB{Pool: pool}, nil
}

// ConnectDefault connects with OpenTelemetry and slog query tracers.
func ConnectDefault(ctx context.Context, cfg Config) (*DB, error) {
	return Connect(ctx, cfg, &Options{
		Tracers: []pgx.QueryTracer{
			otelpgx.NewTracer(),
			&tracelog.TraceLog{
				Logger:   NewLogger(),
				LogLevel: ParseTraceLogLevel(cfg.TraceLogLevel),
			},
		},
	})
}

// RunTx runs fn in a transaction, committing when it returns nil.
func (db *DB) RunTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

// Close closes the pool.
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}
