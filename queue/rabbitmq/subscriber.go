package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/queue"
)

const (
	ConsumeRetryInterval     = 5 * time.Second
	InfiniteRetriesIndicator = -1
	KeyCountRetries          = "x-count-retries"
)

var _ queue.Subscriber = (*Subscriber)(nil)

// Subscriber consumes one delivery at a time (prefetch 1). Retryable failures are
// republished to the tail of the queue with an attempt counter header.
type Subscriber struct {
	name      string
	queueName string
	cfg       SubscriberOptions
	dialer    *Dialer
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SubscriberOptions configures a Subscriber.
type SubscriberOptions struct {
	Name string
	// MaxTryNum bounds deliveries of a retryable message; InfiniteRetriesIndicator
	// retries forever. Defaults to 3.
	MaxTryNum int
	Backoff   time.Duration
}

// NewSubscriber creates a Subscriber for queueName.
func NewSubscriber(dialer *Dialer, queueName string, cfg SubscriberOptions) *Subscriber {
	if cfg.Name == "" {
		cfg.Name = uuid.NewString()
	}
	if cfg.MaxTryNum == 0 {
		cfg.MaxTryNum = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 5 * time.Second
	}

	s := &Subscriber{
		name:      cfg.Name,
		queueName: queueName,
		dialer:    dialer,
		logger:    dialer.options.Logger.With("subscriber", cfg.Name, "queue", queueName),
		cfg:       cfg,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Listen consumes until Close is called, reopening the channel after failures.
func (s *Subscriber) Listen(handler queue.Handler) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.logger.Info("listening...")
	for {
		err := s.listen(handler)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Error("listen error", "error", err.Error())
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(ConsumeRetryInterval):
		}
	}
}

func (s *Subscriber) listen(handler queue.Handler) error {
	channel, err := s.dialer.Channel()
	if err != nil {
		return errors.Wrap(err, "failed to make channel")
	}
	defer func() { _ = channel.Close() }()
	notifyClose := channel.NotifyClose(make(chan *amqp.Error, 1))

	if _, err := channel.QueueDeclare(s.queueName, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "failed to declare queue %q", s.queueName)
	}
	if err := channel.Qos(1, 0, false); err != nil {
		return errors.Wrap(err, "failed to set prefetch count")
	}

	deliveries, err := channel.Consume(s.queueName, s.name, false, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to start consuming from %q", s.queueName)
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case amqpErr := <-notifyClose:
			if amqpErr != nil {
				return errors.Wrap(amqpErr, "channel is closed")
			}
			return errors.New("channel is closed")
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel is closed")
			}
			if err := s.handleDelivery(channel, delivery, handler); err != nil {
				return err
			}
		}
	}
}

// Close cancels the running handler's context and waits for Listen to return.
func (s *Subscriber) Close() error {
	s.logger.Info("closing subscriber...")
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Subscriber) handleDelivery(channel *amqp.Channel, delivery amqp.Delivery, handler queue.Handler) error {
	attempt := retryCount(delivery.Headers) + 1

	ctx := otel.GetTextMapPropagator().Extract(s.ctx, tableCarrier(delivery.Headers))
	ctx, span := tracer.Start(ctx, s.queueName, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("id", delivery.MessageId),
		attribute.String("consumer_name", s.name),
		attribute.Int("attempt", attempt),
	)

	log := s.logger.With("message_id", delivery.MessageId, "attempt", attempt)
	ctx = logger.NewContext(ctx, log)

	retry, err := handler(ctx, newDelivery(delivery, attempt))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return errors.Wrap(channel.Ack(delivery.DeliveryTag, false), "failed to ack")
	}

	log.Error("failed to handle message", "error", err.Error(), "retry", retry)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if !retry || (s.cfg.MaxTryNum != InfiniteRetriesIndicator && attempt >= s.cfg.MaxTryNum) {
		return errors.Wrap(channel.Reject(delivery.DeliveryTag, false), "failed to reject")
	}

	headers := delivery.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers[KeyCountRetries] = int32(attempt)

	select {
	case <-s.ctx.Done():
		// Left unacked; the broker redelivers it after the channel closes.
		return nil
	case <-time.After(s.cfg.Backoff):
	}

	msg := amqp.Publishing{
		MessageId:     delivery.MessageId,
		CorrelationId: delivery.CorrelationId,
		ContentType:   delivery.ContentType,
		DeliveryMode:  delivery.DeliveryMode,
		Body:          delivery.Body,
		Headers:       headers,
	}
	if err := channel.PublishWithContext(context.WithoutCancel(ctx), "", s.queueName, false, false, msg); err != nil {
		return errors.Wrap(err, "failed to republish")
	}
	return errors.Wrap(channel.Ack(delivery.DeliveryTag, false), "failed to ack")
}

// retryCount reads the attempt counter header; brokers and clients may widen the integer type.
func retryCount(headers amqp.Table) int {
	switch v := headers[KeyCountRetries].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	default:
		return 0
	}
}

func newDelivery(msg amqp.Delivery, attempt int) queue.Delivery {
	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = fmt.Sprintf("%v", v)
	}
	if msg.CorrelationId != "" {
		headers["correlation-id"] = msg.CorrelationId
	}
	return queue.Delivery{
		Headers: headers,
		Body:    msg.Body,
		Attempt: attempt,
	}
}
