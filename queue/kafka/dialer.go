package kafka

import (
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Dialer holds broker addresses and the connection settings shared by
// publishers and subscribers.
type Dialer struct {
	dialer *kafka.Dialer
	cfg    Config
	logger *slog.Logger
}

// DialerOptions configures a Dialer.
type DialerOptions struct {
	Logger *slog.Logger
}

// NewDialer creates a Dialer.
func NewDialer(cfg Config, options *DialerOptions) *Dialer {
	if options == nil {
		options = new(DialerOptions)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	return &Dialer{
		cfg:    cfg,
		logger: options.Logger.WithGroup("kafka"),
		dialer: &kafka.Dialer{
			Timeout:   cfg.DialTimeout,
			DualStack: true,
		},
	}
}

// Brokers returns the broker addresses.
func (d *Dialer) Brokers() []string {
	return d.cfg.Brokers
}
