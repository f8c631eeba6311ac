// Package std is the net/http server behind the API.
package std

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/httpserver"
)

const ShutdownTimeout = 15 * time.Second

var _ httpserver.RunableProvider = (*Server)(nil)

// Config of the API listener.
type Config struct {
	Host         string        `envconfig:"HTTP_HOST"`
	Port         int           `envconfig:"HTTP_PORT" default:"8080"`
	TLSCertPath  string        `envconfig:"HTTP_TLS_CERT_PATH"`
	TLSKeyPath   string        `envconfig:"HTTP_TLS_KEY_PATH"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Server struct {
	logger *slog.Logger
	server *http.Server
	config Config
}

// NewDefault is New with the server error log routed to slog.
func NewDefault(c Config, h http.Handler) *Server {
	s := New(c, h)
	s.server.ErrorLog = slog.NewLogLogger(s.logger.Handler(), slog.LevelError)
	return s
}

func New(c Config, h http.Handler) *Server {
	return &Server{
		server: &http.Server{
			Addr:              c.Addr(),
			Handler:           h,
			ReadTimeout:       c.ReadTimeout,
			WriteTimeout:      c.WriteTimeout,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: slog.Default().WithGroup("http"),
		config: c,
	}
}

func (s *Server) Start() error {
	s.logger.Info("server starting", "addr", s.server.Addr)

	var err error
	if s.config.TLSCertPath == "" {
		err = s.server.ListenAndServe()
	} else {
		err = s.server.ListenAndServeTLS(s.config.TLSCertPath, s.config.TLSKeyPath)
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "serve failed")
}

// Close waits up to ShutdownTimeout for in-flight requests, then drops them.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	if err != nil {
		err = stderrors.Join(err, errors.Wrap(s.server.Close(), "failed to close server"))
	}
	s.logger.Info("server closed")
	return errors.Wrap(err, "server shutdown failed")
}

func (s *Server) Run() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("server crashed", "error", err)
		}
	}()
}
