package rabbitmq

import (
	"time"

	"github.com/pkg/errors"
)

// Defaults of MaxInterval.
const (
	DefaultRetryInterval             = 100 * time.Millisecond
	DefaultConnIntervalMultiplicator = 2
	DefaultMaxInterval               = 2 * time.Hour
)

// MaxInterval grows the pause linearly and gives up once it exceeds max.
type MaxInterval struct {
	base          time.Duration
	max           time.Duration
	multiplicator int
}

// NewDefaultMaxInterval returns MaxInterval with default values.
func NewDefaultMaxInterval() *MaxInterval {
	return &MaxInterval{
		base:          DefaultRetryInterval,
		max:           DefaultMaxInterval,
		multiplicator: DefaultConnIntervalMultiplicator,
	}
}

// NewMaxInterval creates a MaxInterval. Zero arguments are rejected.
func NewMaxInterval(base, maxInterval time.Duration, multiplicator int) (*MaxInterval, error) {
	if base <= 0 || maxInterval <= 0 || multiplicator <= 0 {
		return nil, errors.Errorf("invalid retry policy: base=%s max=%s multiplicator=%d", base, maxInterval, multiplicator)
	}
	return &MaxInterval{base: base, max: maxInterval, multiplicator: multiplicator}, nil
}

// TryNum returns the pause before attempt tryNum (starting at 0).
func (m *MaxInterval) TryNum(tryNum int) (time.Duration, bool) {
	interval := m.base * time.Duration(tryNum*m.multiplicator)
	if interval > m.max {
		return 0, true
	}
	return interval, false
}
