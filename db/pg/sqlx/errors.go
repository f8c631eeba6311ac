package sqlx

import (
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// Postgres error codes.
const (
	UniqueViolationCode     = pq.ErrorCode("23505")
	ForeignKeyViolationCode = pq.ErrorCode("23503")
	CheckViolationCode      = pq.ErrorCode("23514")
	NotNullViolationCode    = pq.ErrorCode("23502")
)

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

// IsUniqueViolation reports a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return hasCode(err, UniqueViolationCode)
}

// IsForeignKeyViolation reports a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return hasCode(err, ForeignKeyViolationCode)
}

// IsConstraintViolation reports any constraint violation.
func IsConstraintViolation(err error) bool {
	return hasCode(err, UniqueViolationCode) || hasCode(err, ForeignKeyViolationCode) ||
		hasCode(err, CheckViolationCode) || hasCode(err, NotNullViolationCode)
}

// ConstraintName returns the violated constraint, if any.
func ConstraintName(err error) string {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return ""
	}
	return pqErr.Constraint
}
