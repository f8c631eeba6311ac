package sqlx

import (
	"fmt"
	"time"
)

// Config is the Postgres connection configuration.
type Config struct {
	Host            string        `envconfig:"POSTGRES_HOST" required:"true"`
	Port            int           `envconfig:"POSTGRES_PORT" default:"5432"`
	User            string        `envconfig:"POSTGRES_USER" required:"true"`
	Password        string        `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database        string        `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode         string        `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	ConnectTimeout  int           `envconfig:"POSTGRES_CONNECT_TIMEOUT" default:"5"`
	MaxOpenConns    int           `envconfig:"POSTGRES_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"POSTGRES_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `envconfig:"POSTGRES_CONN_MAX_IDLE_TIME" default:"10m"`
	QueryTimeout    time.Duration `envconfig:"POSTGRES_QUERY_TIMEOUT" default:"10s"`
}

// DSN returns the lib/pq keyword/value connection string.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, quote(c.Password), c.Database, sslMode)
	if c.ConnectTimeout > 0 {
		dsn += fmt.Sprintf(" connect_timeout=%d", c.ConnectTimeout)
	}
	return dsn + " application_name=bulkmail"
}

// quote escapes a value for the keyword/value format.
func quote(v string) string {
	if v == "" {
		return "''"
	}
	needs := false
	out := make([]byte, 0, len(v)+2)
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '\'', '\\':
			needs = true
			out = append(out, '\\', v[i])
		case ' ':
			needs = true
			out = append(out, v[i])
		default:
			out = append(out, v[i])
		}
	}
	if !needs {
		return v
	}
	return "'" + string(out) + "'"
}
