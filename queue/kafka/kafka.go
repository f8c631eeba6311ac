// Package kafka implements queue.Publisher and queue.Subscriber on segmentio/kafka-go.
package kafka

import (
	"time"
)

// Config is the Kafka connection configuration.
type Config struct {
	Brokers     []string      `envconfig:"KAFKA_BROKERS" required:"true"`
	GroupID     string        `envconfig:"KAFKA_GROUP_ID" default:"bulkmail"`
	DialTimeout time.Duration `envconfig:"KAFKA_DIAL_TIMEOUT" default:"10s"`
}
