package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/bulkmail/mail"
)

var tracer = otel.Tracer("github.com/pure-golang/bulkmail/mail/smtp")

var (
	_ mail.Sender   = (*Sender)(nil)
	_ mail.Verifier = (*Sender)(nil)
)

// Sender implements mail.Sender using net/smtp.
// Every Send opens its own connection, upgrades it with STARTTLS, authenticates
// and closes it after the batch.
type Sender struct {
	mx     sync.Mutex
	cfg    Config
	now    func() time.Time
	closed bool
}

// SenderOptions contains options for creating a Sender.
type SenderOptions struct {
	// Now stamps the Date header. Defaults to time.Now.
	Now func() time.Time
}

// NewSender creates a new SMTP Sender.
func NewSender(cfg Config, options *SenderOptions) *Sender {
	s := &Sender{
		cfg: cfg,
		now: time.Now,
	}
	if options != nil && options.Now != nil {
		s.now = options.Now
	}
	return s
}

// Send sends one or more emails over a single connection.
func (s *Sender) Send(ctx context.Context, emails ...mail.Email) error {
	if len(emails) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "SMTP.Send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.Int("smtp.emails_count", len(emails)),
		attribute.String("smtp.host", s.cfg.Host),
		attribute.Int("smtp.port", s.cfg.Port),
		attribute.Bool("smtp.tls", s.cfg.TLS),
	)

	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		span.SetStatus(codes.Error, "sender is closed")
		return errors.New("sender is closed")
	}

	envelopes := make([]envelope, 0, len(emails))
	for _, email := range emails {
		env, err := s.prepare(email)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		envelopes = append(envelopes, env)
	}

	err := s.session(ctx, func(client *smtp.Client) error {
		for _, env := range envelopes {
			if err := deliver(client, env); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrap(err, "failed to send email")
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Verify connects and authenticates without sending anything.
func (s *Sender) Verify(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "SMTP.Verify", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		span.SetStatus(codes.Error, "sender is closed")
		return errors.New("sender is closed")
	}
	if s.cfg.sender() == "" {
		err := mail.Configuration(nil, "no from address specified")
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := s.session(ctx, func(*smtp.Client) error { return nil }); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrap(err, "failed to verify SMTP relay")
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

type envelope struct {
	from string
	rcpt []string
	msg  []byte
}

// prepare resolves the envelope and renders the message body.
func (s *Sender) prepare(email mail.Email) (envelope, error) {
	if email.From.Address == "" {
		email.From = mail.Address{Name: s.cfg.FromName, Address: s.cfg.sender()}
	}
	if email.From.Address == "" {
		return envelope{}, mail.Configuration(nil, "no from address specified")
	}

	rcpt := getEmailAddresses(email.To)
	rcpt = append(rcpt, getEmailAddresses(email.Cc)...)
	rcpt = append(rcpt, getEmailAddresses(email.Bcc)...)
	if len(rcpt) == 0 {
		return envelope{}, errors.New("no recipients specified")
	}

	msg, err := buildMessage(email, s.now())
	if err != nil {
		return envelope{}, errors.Wrap(err, "failed to build message")
	}

	return envelope{from: email.From.Address, rcpt: rcpt, msg: msg}, nil
}

// session dials the relay, negotiates STARTTLS, authenticates and runs fn.
// Cancelling ctx closes the connection.
func (s *Sender) session(ctx context.Context, fn func(*smtp.Client) error) error {
	ctx, span := tracer.Start(ctx, "SMTP.Session")
	defer span.End()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	span.SetAttributes(attribute.String("smtp.address", addr))

	if s.cfg.Username != "" && s.cfg.Password == "" {
		return mail.Configuration(nil, "missing SMTP password")
	}

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "context canceled")
		return err
	}

	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to connect")
		return mail.Transport(err, "failed to connect to SMTP server")
	}
	if s.cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to greet")
		return mail.Transport(err, "failed to start SMTP session")
	}
	defer func() {
		// Close after a successful Quit reports an already closed connection.
		_ = client.Close()
	}()

	if s.cfg.TLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			span.SetAttributes(attribute.Bool("smtp.starttls", true))
			tlsConfig := &tls.Config{
				ServerName:         s.cfg.Host,
				InsecureSkipVerify: s.cfg.Insecure, // #nosec G402 -- controlled by config
			}
			if err := client.StartTLS(tlsConfig); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to start TLS")
				return mail.Transport(err, "failed to start TLS")
			}
		} else {
			span.SetAttributes(attribute.Bool("smtp.starttls", false))
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to authenticate")
			return mail.Configuration(err, "failed to authenticate")
		}
	}

	if err := fn(client); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrap(ctxErr, err.Error())
		}
		return err
	}

	if err := client.Quit(); err != nil {
		span.RecordError(err)
		return mail.Transport(err, "failed to quit")
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// deliver runs MAIL, RCPT and DATA for one envelope.
func deliver(client *smtp.Client, env envelope) error {
	if err := client.Mail(env.from); err != nil {
		if isAuthRequired(err) {
			return mail.Configuration(err, "failed to set sender")
		}
		return mail.Transport(err, "failed to set sender")
	}
	for _, addr := range env.rcpt {
		if err := client.Rcpt(addr); err != nil {
			return mail.Transport(err, fmt.Sprintf("failed to set recipient: %s", addr))
		}
	}

	w, err := client.Data()
	if err != nil {
		return mail.Transport(err, "failed to get data writer")
	}
	if _, err := w.Write(env.msg); err != nil {
		_ = w.Close()
		return mail.Transport(err, "failed to write message")
	}
	if err := w.Close(); err != nil {
		return mail.Transport(err, "message rejected")
	}
	return nil
}

// isAuthRequired reports a 530 reply: the relay wants AUTH we did not perform.
func isAuthRequired(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == 530
}

// Close closes the sender.
func (s *Sender) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.closed = true
	return nil
}
