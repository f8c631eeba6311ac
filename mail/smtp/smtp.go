package smtp

import "time"

// Config contains SMTP relay parameters. The defaults target Gmail with an app password.
type Config struct {
	Host     string        `envconfig:"SMTP_HOST" default:"smtp.gmail.com"`
	Port     int           `envconfig:"SMTP_PORT" default:"587"`       // 587 for STARTTLS
	Username string        `envconfig:"SMTP_USER"`                     // account email, empty disables AUTH
	Password string        `envconfig:"SMTP_PASSWORD"`                 // app password
	From     string        `envconfig:"SMTP_FROM"`                     // defaults to Username
	FromName string        `envconfig:"SMTP_FROM_NAME"`                // display name for From
	TLS      bool          `envconfig:"SMTP_TLS" default:"true"`       // enable STARTTLS
	Insecure bool          `envconfig:"SMTP_INSECURE" default:"false"` // skip certificate verification
	Timeout  time.Duration `envconfig:"SMTP_TIMEOUT" default:"30s"`    // dial and session deadline
}

// sender returns the envelope sender address.
func (c Config) sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}
