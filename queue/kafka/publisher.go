package kafka

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/bulkmail/queue"
	"github.com/pure-golang/bulkmail/queue/encoders"
)

var _ queue.Publisher = (*Publisher)(nil)

// messageWriter is the part of kafka.Writer the Publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes messages synchronously through a single kafka.Writer.
type Publisher struct {
	mx     sync.Mutex
	cfg    PublisherConfig
	writer messageWriter
	closed bool
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Topic is used for messages without one.
	Topic    string
	Balancer kafka.Balancer // defaults to kafka.Hash so equal keys share a partition
	Encoder  queue.Encoder  // defaults to JSON
}

// NewPublisher creates a Publisher.
func NewPublisher(dialer *Dialer, cfg PublisherConfig) *Publisher {
	if cfg.Encoder == nil {
		cfg.Encoder = encoders.JSON{}
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &kafka.Hash{}
	}

	return &Publisher{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(dialer.Brokers()...),
			Balancer:               cfg.Balancer,
			AllowAutoTopicCreation: true,
			Logger:                 kafka.LoggerFunc(dialer.logger.Debug),
			ErrorLogger:            kafka.LoggerFunc(dialer.logger.Error),
		},
	}
}

// Publish writes messages in order.
func (p *Publisher) Publish(ctx context.Context, messages ...queue.Message) error {
	p.mx.Lock()
	defer p.mx.Unlock()

	if p.closed {
		return errors.New("publisher is closed")
	}

	for _, msg := range messages {
		if err := p.publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, msg queue.Message) error {
	ctx, span := tracer.Start(ctx, "Kafka.Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	km, err := p.toKafka(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(
		attribute.String("topic", km.Topic),
		attribute.String("key", string(km.Key)),
		attribute.Int("body_size", len(km.Value)),
	)

	if err := p.writer.WriteMessages(ctx, km); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "failed to publish message to %q", km.Topic)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// toKafka encodes msg and injects the trace context into its headers.
func (p *Publisher) toKafka(ctx context.Context, msg queue.Message) (kafka.Message, error) {
	topic := msg.Topic
	if topic == "" {
		topic = p.cfg.Topic
	}
	if topic == "" {
		return kafka.Message{}, errors.New("message has no topic")
	}

	body, err := msg.EncodeValue(p.cfg.Encoder)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "failed to encode message body")
	}

	key := msg.Key
	if key == "" {
		key = uuid.NewString()
	}

	headers := maps.Clone(msg.Headers)
	if headers == nil {
		headers = make(map[string]string)
	}
	headers["content-type"] = p.cfg.Encoder.ContentType()
	otel.GetTextMapPropagator().Inject(ctx, headersCarrier(headers))

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: toKafkaHeaders(headers),
	}, nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	p.mx.Lock()
	defer p.mx.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return errors.Wrap(p.writer.Close(), "failed to close kafka writer")
}
