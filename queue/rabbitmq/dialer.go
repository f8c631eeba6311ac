package rabbitmq

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrConnectionClosed = errors.New("connection is closed manually")

// Dialer owns the AMQP connection and reconnects when the broker drops it.
type Dialer struct {
	uri     string
	conn    *amqp.Connection
	options *DialerOptions
	mx      sync.Mutex
	closed  bool
}

// RetryPolicy of dialer reconnection.
type RetryPolicy interface {
	TryNum(i int) (duration time.Duration, stop bool)
}

// DialerOptions set dialer params.
type DialerOptions struct {
	RetryPolicy RetryPolicy
	Logger      *slog.Logger
}

// NewDialer creates a Dialer. Call Connect before opening channels.
func NewDialer(uri string, options *DialerOptions) *Dialer {
	opts := DialerOptions{}
	if options != nil {
		opts = *options
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.WithGroup("rabbitmq")
	if opts.RetryPolicy == nil {
		opts.RetryPolicy = NewDefaultMaxInterval()
	}

	return &Dialer{uri: uri, options: &opts}
}

// Connect dials the broker.
func (d *Dialer) Connect() error {
	d.options.Logger.Debug("dialing...")

	d.mx.Lock()
	defer d.mx.Unlock()

	if d.closed {
		return ErrConnectionClosed
	}

	conn, err := amqp.DialConfig(d.uri, amqp.Config{})
	if err != nil {
		return errors.Wrap(err, "failed to dial")
	}

	d.conn = conn
	go d.handleReconnect(conn.NotifyClose(make(chan *amqp.Error, 1)))
	d.options.Logger.Debug("connected")
	return nil
}

// Channel opens a new channel on the current connection.
func (d *Dialer) Channel() (*amqp.Channel, error) {
	d.mx.Lock()
	defer d.mx.Unlock()

	if d.conn == nil {
		return nil, ErrConnectionClosed
	}

	channel, err := d.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open channel")
	}
	return channel, nil
}

// Close closes the connection and stops reconnecting.
func (d *Dialer) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()

	d.closed = true
	if d.conn == nil {
		return nil
	}
	conn := d.conn
	d.conn = nil
	return errors.Wrap(conn.Close(), "failed to close RabbitMQ connection")
}

// handleReconnect waits for the connection to drop and dials again per RetryPolicy.
func (d *Dialer) handleReconnect(ch chan *amqp.Error) {
	amqpErr, ok := <-ch
	if !ok {
		d.options.Logger.Debug("shutdown")
		return
	}

	d.options.Logger.Warn("disconnected", "error", amqpErr.Error())

	for i := 0; ; i++ {
		err := d.Connect()
		if err == nil || errors.Is(err, ErrConnectionClosed) {
			return
		}

		pause, stop := d.options.RetryPolicy.TryNum(i)
		if stop {
			d.options.Logger.Error("giving up reconnecting to rabbitmq", "error", err.Error())
			return
		}
		d.options.Logger.Error("failed to reconnect", "error", err.Error(), "retry_in", pause)
		time.Sleep(pause)
	}
}
