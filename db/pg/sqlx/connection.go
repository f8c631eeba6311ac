// Package sqlx is the database/sql connection (lib/pq driver) used by the
// template repository.
package sqlx

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Querier is implemented by Connection and Tx.
type Querier interface {
	Get(ctx context.Context, dst any, query string, args ...any) error
	Select(ctx context.Context, dst any, query string, args ...any) error
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	NamedExec(ctx context.Context, query string, arg any) (sql.Result, error)
}

var (
	_ Querier = (*Connection)(nil)
	_ Querier = (*Tx)(nil)
)

// Connection is a sqlx database handle with per-query timeouts and spans.
type Connection struct {
	db  *sqlx.DB
	cfg Config
}

// Connect opens and pings a connection.
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	ctx, span := tracer.Start(ctx, "sqlx.Connect")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.host", cfg.Host),
		attribute.Int("db.port", cfg.Port),
		attribute.String("db.name", cfg.Database),
	)

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	return &Connection{db: db, cfg: cfg}, nil
}

// NewConnection wraps an open handle.
func NewConnection(db *sqlx.DB, cfg Config) *Connection {
	return &Connection{db: db, cfg: cfg}
}

// Get scans a single row into dst. A missing row returns sql.ErrNoRows unwrapped.
func (c *Connection) Get(ctx context.Context, dst any, query string, args ...any) error {
	ctx, cancel := withTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "Get", query, false)
	defer span.End()

	return finishGet(span, c.db.GetContext(ctx, dst, query, args...))
}

// Select scans rows into the slice dst.
func (c *Connection) Select(ctx context.Context, dst any, query string, args ...any) error {
	ctx, cancel := withTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "Select", query, false)
	defer span.End()

	if err := c.db.SelectContext(ctx, dst, query, args...); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to execute select query")
	}
	return nil
}

// Exec runs a statement.
func (c *Connection) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "Exec", query, false)
	defer span.End()

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to execute query")
	}
	return res, nil
}

// NamedExec runs a statement with :name parameters bound from arg.
func (c *Connection) NamedExec(ctx context.Context, query string, arg any) (sql.Result, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "NamedExec", query, false)
	defer span.End()

	res, err := c.db.NamedExecContext(ctx, query, arg)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to execute named query")
	}
	return res, nil
}

// Ping checks the connection.
func (c *Connection) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the handle.
func (c *Connection) Close() error {
	if err := c.db.Close(); err != nil {
		return errors.Wrap(err, "failed to close database connection")
	}
	return nil
}

func finishGet(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	span.RecordError(err)
	return errors.Wrap(err, "failed to execute get query")
}
