package kafka

import (
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/pure-golang/bulkmail/queue/kafka")

// headersCarrier implements propagation.TextMapCarrier over message headers.
type headersCarrier map[string]string

func (c headersCarrier) Get(key string) string {
	return c[key]
}

func (c headersCarrier) Set(key, value string) {
	c[key] = value
}

func (c headersCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func toKafkaHeaders(h map[string]string) []kafka.Header {
	out := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func fromKafkaHeaders(h []kafka.Header) map[string]string {
	out := make(map[string]string, len(h))
	for _, kh := range h {
		out[kh.Key] = string(kh.Value)
	}
	return out
}
