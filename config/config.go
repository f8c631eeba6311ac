// Package config loads the bulkmail settings from the environment and an
// optional .env file.
package config

import (
	"slices"
	"strings"

	"github.com/pkg/errors"

	pgxdb "github.com/pure-golang/bulkmail/db/pg/pgx"
	dbsqlx "github.com/pure-golang/bulkmail/db/pg/sqlx"
	"github.com/pure-golang/bulkmail/env"
	"github.com/pure-golang/bulkmail/httpserver/std"
	"github.com/pure-golang/bulkmail/kv"
	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/mail/resend"
	"github.com/pure-golang/bulkmail/mail/smtp"
	"github.com/pure-golang/bulkmail/metrics"
	"github.com/pure-golang/bulkmail/queue/kafka"
	"github.com/pure-golang/bulkmail/queue/rabbitmq"
	"github.com/pure-golang/bulkmail/storage/minio"
	"github.com/pure-golang/bulkmail/tracing/jaeger"
)

// ErrInvalid is matched by every Validate error.
var ErrInvalid = errors.New("invalid configuration")

const (
	MailSMTP   = "smtp"
	MailResend = "resend"
	MailNoop   = "noop"

	StorePostgres = "postgres"
	StoreMemory   = "memory"

	QueueRabbitMQ = "rabbitmq"
	QueueKafka    = "kafka"

	PolicyContinue = "continue"
	PolicyAbort    = "abort"
)

// Config aggregates the settings of every component. Component sections are
// loaded only when the selected providers need them.
type Config struct {
	MailProvider  string `envconfig:"MAIL_PROVIDER" default:"smtp"`
	StoreProvider string `envconfig:"STORE" default:"postgres"`
	// QueueProvider is empty when no broker is used.
	QueueProvider string `envconfig:"QUEUE_PROVIDER"`

	// The Gmail pair is the shorthand for an SMTP relay on smtp.gmail.com.
	GmailEmail       string `envconfig:"GMAIL_EMAIL"`
	GmailAppPassword string `envconfig:"GMAIL_APP_PASSWORD"`

	RatePerMinute  int    `envconfig:"RATE_LIMIT_EMAILS_PER_MINUTE" default:"30"`
	FailurePolicy  string `envconfig:"DISPATCH_FAILURE_POLICY" default:"continue"`
	Preflight      bool   `envconfig:"DISPATCH_PREFLIGHT" default:"true"`
	SanitizeValues bool   `envconfig:"TEMPLATE_SANITIZE_VALUES" default:"false"`

	CampaignsTopic string `envconfig:"QUEUE_CAMPAIGNS_TOPIC" default:"bulkmail.campaigns"`
	EventsTopic    string `envconfig:"QUEUE_EVENTS_TOPIC" default:"bulkmail.events"`
	PublishEvents  bool   `envconfig:"QUEUE_PUBLISH_EVENTS" default:"true"`

	Logger    logger.Config   `ignored:"true"`
	SMTP      smtp.Config     `ignored:"true"`
	Resend    resend.Config   `ignored:"true"`
	Postgres  pgxdb.Config    `ignored:"true"`
	Templates dbsqlx.Config   `ignored:"true"`
	KV        kv.Config       `ignored:"true"`
	Kafka     kafka.Config    `ignored:"true"`
	RabbitMQ  rabbitmq.Config `ignored:"true"`
	Storage   minio.Config    `ignored:"true"`
	Metrics   metrics.Config  `ignored:"true"`
	Tracing   jaeger.Config   `ignored:"true"`
	HTTP      std.Config      `ignored:"true"`
}

// Load reads the configuration. It does not validate credentials, see Validate.
func Load() (*Config, error) {
	return LoadFrom(env.DefaultEnvFile)
}

// LoadFrom is Load with a custom dotenv file.
func LoadFrom(file string) (*Config, error) {
	c := new(Config)

	if err := env.InitConfigFrom(file, c); err != nil {
		return nil, errors.Wrap(err, "failed to load general settings")
	}
	c.MailProvider = strings.ToLower(c.MailProvider)
	c.StoreProvider = strings.ToLower(c.StoreProvider)
	c.QueueProvider = strings.ToLower(c.QueueProvider)

	sections := []struct {
		name string
		dst  any
		need bool
	}{
		{"logger", &c.Logger, true},
		{"kv", &c.KV, true},
		{"storage", &c.Storage, true},
		{"metrics", &c.Metrics, true},
		{"tracing", &c.Tracing, true},
		{"http", &c.HTTP, true},
		{"smtp", &c.SMTP, c.MailProvider == MailSMTP},
		{"resend", &c.Resend, c.MailProvider == MailResend},
		{"postgres", &c.Postgres, c.StoreProvider == StorePostgres},
		{"postgres", &c.Templates, c.StoreProvider == StorePostgres},
		{"kafka", &c.Kafka, c.QueueProvider == QueueKafka},
		{"rabbitmq", &c.RabbitMQ, c.QueueProvider == QueueRabbitMQ},
	}
	for _, s := range sections {
		if !s.need {
			continue
		}
		if err := env.InitConfigFrom(file, s.dst); err != nil {
			return nil, errors.Wrapf(err, "failed to load %s settings", s.name)
		}
	}

	if c.SMTP.Username == "" {
		c.SMTP.Username = c.GmailEmail
	}
	if c.SMTP.Password == "" {
		c.SMTP.Password = c.GmailAppPassword
	}

	return c, nil
}

// Validate reports every missing credential and unknown option at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, errors.Errorf(format, args...).Error())
	}

	switch c.MailProvider {
	case MailSMTP:
		if c.SMTP.Username == "" {
			add("GMAIL_EMAIL or SMTP_USER is required")
		}
		if c.SMTP.Password == "" {
			add("GMAIL_APP_PASSWORD or SMTP_PASSWORD is required")
		}
	case MailResend:
		if c.Resend.APIKey == "" {
			add("RESEND_API_KEY is required")
		}
		if c.Resend.From == "" {
			add("RESEND_FROM_EMAIL is required")
		}
	case MailNoop:
	default:
		add("unknown MAIL_PROVIDER %q", c.MailProvider)
	}

	if !slices.Contains([]string{StorePostgres, StoreMemory}, c.StoreProvider) {
		add("unknown STORE %q", c.StoreProvider)
	}
	if !slices.Contains([]string{"", QueueRabbitMQ, QueueKafka}, c.QueueProvider) {
		add("unknown QUEUE_PROVIDER %q", c.QueueProvider)
	}
	if !slices.Contains([]string{PolicyContinue, PolicyAbort}, c.FailurePolicy) {
		add("unknown DISPATCH_FAILURE_POLICY %q", c.FailurePolicy)
	}
	if c.RatePerMinute <= 0 {
		add("RATE_LIMIT_EMAILS_PER_MINUTE must be positive, got %d", c.RatePerMinute)
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Wrap(ErrInvalid, strings.Join(problems, "; "))
}
