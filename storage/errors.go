package storage

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode classifies a storage failure.
type ErrorCode string

const (
	CodeNotFound       ErrorCode = "NotFound"
	CodeAccessDenied   ErrorCode = "AccessDenied"
	CodeBucketNotFound ErrorCode = "BucketNotFound"
	CodeInternalError  ErrorCode = "InternalError"
)

// StorageError wraps a backend error with its code.
type StorageError struct {
	Code ErrorCode
	Key  string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage.%s (key=%s): %v", e.Code, e.Key, e.Err)
	}
	return fmt.Sprintf("storage.%s (key=%s)", e.Code, e.Key)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Code == code
}

// IsNotFound reports a missing object.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsAccessDenied reports rejected credentials or policy.
func IsAccessDenied(err error) bool {
	return hasCode(err, CodeAccessDenied)
}

// IsBucketNotFound reports a missing bucket.
func IsBucketNotFound(err error) bool {
	return hasCode(err, CodeBucketNotFound)
}
