package sqlx

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Tx is a transaction with the same query helpers as Connection.
type Tx struct {
	tx  *sqlx.Tx
	cfg Config
}

// TxFunc runs inside RunTx.
type TxFunc func(ctx context.Context, tx *Tx) error

// RunTx runs fn in a transaction. It commits when fn returns nil and rolls
// back on an error or a panic, which is re-raised.
func (c *Connection) RunTx(ctx context.Context, opts *sql.TxOptions, fn TxFunc) (err error) {
	ctx, span := startSpan(ctx, "RunTx", "", true)
	defer span.End()

	sqlTx, err := c.db.BeginTxx(ctx, opts)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to begin transaction")
	}
	tx := &Tx{tx: sqlTx, cfg: c.cfg}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				span.RecordError(rbErr)
				err = errors.Wrapf(err, "rollback failed: %v", rbErr)
			}
		}
	}()

	if err = fn(ctx, tx); err != nil {
		span.RecordError(err)
		return err
	}
	if err = tx.tx.Commit(); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// Get scans a single row into dst. A missing row returns sql.ErrNoRows unwrapped.
func (tx *Tx) Get(ctx context.Context, dst any, query string, args ...any) error {
	ctx, cancel := withTimeout(ctx, tx.cfg.QueryTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "Get", query, true)
	defer span.End()

	return finishGet(span, tx.tx.GetContext(ctx, dst, query, args...))
}

// Select scans rows into the slice dst.
func (tx *Tx) Select(ctx context.Context, dst any, query string, args ...any) error {
	ctx, cancel := withTimeout(ctx, tx.cfg.QueryTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "Select", query, true)
	defer span.End()

	if err := tx.tx.SelectContext(ctx, dst, query, args...); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to execute select query in transaction")
	}
	return nil
}

// Exec runs a statement.
func (tx *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := withTimeout(ctx, tx.cfg.QueryTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "Exec", query, true)
	defer span.End()

	res, err := tx.tx.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to execute query in transaction")
	}
	return res, nil
}

// NamedExec runs a statement with :name parameters bound from arg.
func (tx *Tx) NamedExec(ctx context.Context, query string, arg any) (sql.Result, error) {
	ctx, cancel := withTimeout(ctx, tx.cfg.QueryTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "NamedExec", query, true)
	defer span.End()

	res, err := tx.tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to execute named query in transaction")
	}
	return res, nil
}
