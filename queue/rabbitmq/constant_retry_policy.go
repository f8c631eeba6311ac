package rabbitmq

import "time"

// ConstantInterval reconnects forever, pausing the same interval before every
// attempt. A worker waiting out a broker restart keeps its campaign queue.
type ConstantInterval struct {
	interval time.Duration
}

// NewConstantInterval creates a ConstantInterval.
func NewConstantInterval(interval time.Duration) *ConstantInterval {
	return &ConstantInterval{interval: interval}
}

// TryNum never stops.
func (c *ConstantInterval) TryNum(int) (time.Duration, bool) {
	return c.interval, false
}
