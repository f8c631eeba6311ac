package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/queue"
)

// ConsumeRetryInterval is the pause before reopening a failed reader.
const ConsumeRetryInterval = 5 * time.Second

var _ queue.Subscriber = (*Subscriber)(nil)

// messageReader is the part of kafka.Reader the Subscriber uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Subscriber reads one message at a time from a consumer group and commits it
// after the handler is done with it.
type Subscriber struct {
	topic     string
	cfg       SubscriberConfig
	logger    *slog.Logger
	newReader func() messageReader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	// MaxTryNum bounds handler attempts for retryable errors. Defaults to 3.
	MaxTryNum int
	// Backoff is the pause between attempts. Defaults to 5s.
	Backoff time.Duration
}

// NewSubscriber creates a Subscriber for topic in the dialer's consumer group.
func NewSubscriber(dialer *Dialer, topic string, cfg SubscriberConfig) *Subscriber {
	if cfg.MaxTryNum <= 0 {
		cfg.MaxTryNum = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 5 * time.Second
	}

	s := &Subscriber{
		topic:  topic,
		cfg:    cfg,
		logger: dialer.logger.With("topic", topic, "group", dialer.cfg.GroupID),
		newReader: func() messageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:     dialer.cfg.Brokers,
				GroupID:     dialer.cfg.GroupID,
				Topic:       topic,
				Dialer:      dialer.dialer,
				MinBytes:    1,
				MaxBytes:    10e6,
				MaxWait:     time.Second,
				Logger:      kafka.LoggerFunc(dialer.logger.Debug),
				ErrorLogger: kafka.LoggerFunc(dialer.logger.Error),
			})
		},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Listen consumes messages until Close is called. Reader failures reopen the reader.
func (s *Subscriber) Listen(handler queue.Handler) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.logger.Info("listening...")
	for {
		err := s.listen(handler)
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Error("listen error", "error", err.Error())

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(ConsumeRetryInterval):
		}
	}
}

func (s *Subscriber) listen(handler queue.Handler) error {
	reader := s.newReader()
	defer func() {
		if err := reader.Close(); err != nil {
			s.logger.Error("failed to close reader", "error", err.Error())
		}
	}()

	for {
		msg, err := reader.FetchMessage(s.ctx)
		if err != nil {
			return errors.Wrap(err, "failed to fetch message")
		}

		s.handle(msg, handler)

		// Committed even after the last failed attempt: a poisoned request must not block the group.
		if err := reader.CommitMessages(context.WithoutCancel(s.ctx), msg); err != nil {
			return errors.Wrap(err, "failed to commit message")
		}
	}
}

// handle runs handler with retries for one message.
func (s *Subscriber) handle(msg kafka.Message, handler queue.Handler) {
	headers := fromKafkaHeaders(msg.Headers)

	for attempt := 1; attempt <= s.cfg.MaxTryNum; attempt++ {
		ctx := otel.GetTextMapPropagator().Extract(s.ctx, headersCarrier(headers))
		ctx, span := tracer.Start(ctx, "Kafka.Consume", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(
			attribute.String("topic", msg.Topic),
			attribute.Int("partition", msg.Partition),
			attribute.Int64("offset", msg.Offset),
			attribute.Int("attempt", attempt),
		)

		log := s.logger.With("offset", msg.Offset, "attempt", attempt)
		ctx = logger.NewContext(ctx, log)

		retry, err := handler(ctx, queue.Delivery{Headers: headers, Body: msg.Value, Attempt: attempt})
		if err == nil {
			span.SetStatus(codes.Ok, "")
			span.End()
			return
		}

		log.Error("failed to handle message", "error", err.Error(), "retry", retry)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()

		if !retry || attempt == s.cfg.MaxTryNum {
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.cfg.Backoff):
		}
	}
}

// Close cancels the context of the running handler and waits for Listen to return.
func (s *Subscriber) Close() error {
	s.logger.Info("closing subscriber...")
	s.cancel()
	s.wg.Wait()
	return nil
}
