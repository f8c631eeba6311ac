package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/pure-golang/bulkmail/queue/rabbitmq")

// tableCarrier implements propagation.TextMapCarrier over AMQP headers.
type tableCarrier amqp.Table

func (c tableCarrier) Get(key string) string {
	v, ok := c[key]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func (c tableCarrier) Set(key, value string) {
	c[key] = value
}

func (c tableCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
