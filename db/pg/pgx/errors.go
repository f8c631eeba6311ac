package pgx

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// ErrorCode from https://www.postgresql.org/docs/current/errcodes-appendix.html
type ErrorCode string

const (
	UniqueViolation     ErrorCode = "23505"
	ForeignKeyViolation ErrorCode = "23503"
	CheckViolation      ErrorCode = "23514"
)

// ErrorIs reports whether err carries a *pgconn.PgError with code.
func ErrorIs(err error, code ErrorCode) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != string(code) {
		return nil, false
	}
	return pgErr, true
}

// IsNoRows reports whether err is pgx.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
