// Package queue carries campaign requests to workers and dispatch events to listeners.
package queue

import (
	"context"
	"io"
	"time"
)

// Default topics.
const (
	TopicCampaigns = "bulkmail.campaigns"
	TopicEvents    = "bulkmail.events"
)

// Publisher sends messages to a topic of the message broker.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
}

// Subscriber consumes messages from a topic, one at a time.
type Subscriber interface {
	// Listen blocks until Close is called.
	Listen(h Handler)
	io.Closer
}

// Handler processes a delivery. retry=true asks the broker to redeliver it later.
type Handler func(ctx context.Context, msg Delivery) (retry bool, err error)

// Encoder converts a body to bytes.
type Encoder interface {
	Encode(v any) ([]byte, error)
	ContentType() string
}

// Message is published to the broker.
type Message struct {
	Topic string
	// Key groups related messages, e.g. all events of one campaign, so brokers
	// that partition keep them ordered.
	Key     string
	Headers map[string]string
	Body    any
	TTL     time.Duration
}

// EncodeValue converts Body with enc. A nil Body encodes to nil.
func (m *Message) EncodeValue(enc Encoder) ([]byte, error) {
	if m.Body == nil {
		return nil, nil
	}
	return enc.Encode(m.Body)
}

// Delivery is a consumed message.
type Delivery struct {
	Headers map[string]string
	Body    []byte
	// Attempt is 1 for the first delivery.
	Attempt int
}
