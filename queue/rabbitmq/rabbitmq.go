// Package rabbitmq implements queue.Publisher and queue.Subscriber on amqp091-go.
package rabbitmq

import "time"

// Config is the RabbitMQ connection configuration.
type Config struct {
	URL      string `envconfig:"RABBITMQ_URL" required:"true"`
	Exchange string `envconfig:"RABBITMQ_EXCHANGE"`
	// ReconnectInterval, when set, makes the dialer reconnect forever at this
	// pace instead of backing off and giving up.
	ReconnectInterval time.Duration `envconfig:"RABBITMQ_RECONNECT_INTERVAL"`
}

// RetryPolicy returns the reconnection policy for DialerOptions. Nil selects
// the dialer's default MaxInterval.
func (c Config) RetryPolicy() RetryPolicy {
	if c.ReconnectInterval <= 0 {
		return nil
	}
	return NewConstantInterval(c.ReconnectInterval)
}
