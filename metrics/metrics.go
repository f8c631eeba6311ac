// Package metrics exports OpenTelemetry instruments in the Prometheus format.
package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config of the standalone metrics endpoint. A zero Port disables the server,
// the API then serves /metrics itself.
type Config struct {
	Host        string        `envconfig:"METRICS_HOST" default:"0.0.0.0"`
	Port        int           `envconfig:"METRICS_PORT" default:"0"`
	ReadTimeout time.Duration `envconfig:"METRICS_READ_TIMEOUT" default:"30s"`
}

// Enabled reports whether a dedicated metrics server is configured.
func (c Config) Enabled() bool {
	return c.Port > 0
}

// Server serves /metrics on its own address.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// InitDefault installs the Prometheus meter provider and, when cfg is enabled,
// starts the metrics server. The returned Closer stops the server.
func InitDefault(cfg Config) (io.Closer, error) {
	if err := InitPrometheus(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return io.NopCloser(nil), nil
	}

	s := New(cfg)
	s.Run()
	return s, nil
}

// New creates a Server without starting it.
func New(cfg Config) *Server {
	return &Server{
		server: NewHTTPServer(cfg),
		logger: slog.Default().WithGroup("metrics"),
	}
}

// Run serves in the background.
func (s *Server) Run() {
	go func() {
		s.logger.Info("metrics server starting", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server failed", "error", err.Error())
		}
	}()
}

func (s *Server) Close() error {
	return errors.Wrap(s.server.Close(), "failed to close metrics server")
}

// Handler serves the registered instruments.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewHTTPServer builds the server with the /metrics route.
func NewHTTPServer(cfg Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
