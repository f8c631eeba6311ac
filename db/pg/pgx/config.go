package pgx

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the Postgres connection configuration.
type Config struct {
	User            string        `envconfig:"POSTGRES_USER" required:"true"`
	Password        string        `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Host            string        `envconfig:"POSTGRES_HOST" required:"true"`
	Port            int           `envconfig:"POSTGRES_PORT" default:"5432"`
	Name            string        `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode         string        `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	CertPath        string        `envconfig:"POSTGRES_SSL_CERT_PATH"`
	MaxConns        int32         `envconfig:"POSTGRES_MAX_OPEN_CONNS" default:"10"`
	MaxConnLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"30m"`
	MaxConnIdleTime time.Duration `envconfig:"POSTGRES_CONN_MAX_IDLE_TIME" default:"10m"`
	// TraceLogLevel is one of trace, debug, info, warn, error, none.
	TraceLogLevel string `envconfig:"POSTGRES_TRACE_LOG_LEVEL" default:"error"`
}

// URL returns the connection string. A CertPath switches sslmode to verify-full.
func (c Config) URL() *url.URL {
	q := url.Values{
		"timezone":         []string{"utc"},
		"application_name": []string{"bulkmail"},
	}
	switch {
	case c.CertPath != "":
		q.Set("sslmode", "verify-full")
		q.Set("sslrootcert", c.CertPath)
	case c.SSLMode != "":
		q.Set("sslmode", c.SSLMode)
	default:
		q.Set("sslmode", "disable")
	}

	host := c.Host
	if c.Port != 0 && c.Port != 5432 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	return &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     host,
		Path:     c.Name,
		RawQuery: q.Encode(),
	}
}
