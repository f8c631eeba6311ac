package rabbitmq

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/bulkmail/queue"
	"github.com/pure-golang/bulkmail/queue/encoders"
)

var _ queue.Publisher = (*Publisher)(nil)

type DeliveryMode uint8

const (
	Transient  = DeliveryMode(amqp.Transient)
	Persistent = DeliveryMode(amqp.Persistent)
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Exchange is empty for the default exchange, where the topic is the queue name.
	Exchange     string
	RoutingKey   string // used for messages without a topic
	DeliveryMode DeliveryMode
	Encoder      queue.Encoder
	MessageTTL   time.Duration // precision to milliseconds
}

// Publisher publishes synchronously over one channel, reopened after it closes.
type Publisher struct {
	mx       sync.Mutex
	dialer   *Dialer
	cfg      PublisherConfig
	channel  *amqp.Channel
	closed   <-chan *amqp.Error
	declared map[string]bool
}

// NewPublisher creates a Publisher.
func NewPublisher(dialer *Dialer, cfg PublisherConfig) *Publisher {
	if cfg.Encoder == nil {
		cfg.Encoder = encoders.JSON{}
	}
	if cfg.DeliveryMode == 0 {
		cfg.DeliveryMode = Persistent
	}

	closed := make(chan *amqp.Error, 1)
	close(closed)

	return &Publisher{
		dialer: dialer,
		cfg:    cfg,
		closed: closed,
	}
}

// Publish sends messages in order.
func (p *Publisher) Publish(ctx context.Context, messages ...queue.Message) error {
	p.mx.Lock()
	defer p.mx.Unlock()

	select {
	case <-p.closed:
		channel, err := p.dialer.Channel()
		if err != nil {
			return err
		}
		p.channel = channel
		p.closed = channel.NotifyClose(make(chan *amqp.Error, 1))
		p.declared = make(map[string]bool)
	default:
	}

	for _, msg := range messages {
		if err := p.publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, msg queue.Message) error {
	ctx, span := tracer.Start(ctx, "RabbitMQ.Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	routingKey := p.cfg.RoutingKey
	if msg.Topic != "" {
		routingKey = msg.Topic
	}

	pub, err := p.toPublishing(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(
		attribute.String("id", pub.MessageId),
		attribute.String("exchange", p.cfg.Exchange),
		attribute.String("key", routingKey),
		attribute.Int("body_size", len(pub.Body)),
	)

	if p.cfg.Exchange == "" && !p.declared[routingKey] {
		if _, err := p.channel.QueueDeclare(routingKey, true, false, false, false, nil); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return errors.Wrapf(err, "failed to declare queue %q", routingKey)
		}
		p.declared[routingKey] = true
	}

	if err := p.channel.PublishWithContext(ctx, p.cfg.Exchange, routingKey, false, false, pub); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "failed to publish to %q", routingKey)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// toPublishing encodes msg and injects the trace context into its headers.
func (p *Publisher) toPublishing(ctx context.Context, msg queue.Message) (amqp.Publishing, error) {
	body, err := msg.EncodeValue(p.cfg.Encoder)
	if err != nil {
		return amqp.Publishing{}, errors.Wrap(err, "failed to encode message body")
	}

	pub := amqp.Publishing{
		ContentType:   p.cfg.Encoder.ContentType(),
		MessageId:     uuid.NewString(),
		CorrelationId: msg.Key,
		DeliveryMode:  uint8(p.cfg.DeliveryMode),
		Body:          body,
		Headers:       amqp.Table{},
	}
	for k, v := range msg.Headers {
		pub.Headers[k] = v
	}

	ttl := p.cfg.MessageTTL
	if msg.TTL > 0 {
		ttl = msg.TTL
	}
	if ttl > 0 {
		pub.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}

	otel.GetTextMapPropagator().Inject(ctx, tableCarrier(pub.Headers))
	return pub, nil
}

// Close closes the channel.
func (p *Publisher) Close() error {
	p.mx.Lock()
	defer p.mx.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		return nil
	}
	return errors.Wrap(p.channel.Close(), "failed to close channel")
}
