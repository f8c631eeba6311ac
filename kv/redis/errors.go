package redis

import (
	"github.com/pkg/errors"
)

// ErrKeyNotFound is returned when the key does not exist.
var ErrKeyNotFound = errors.New("key not found")
