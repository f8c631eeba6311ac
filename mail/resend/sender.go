package resend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"github.com/resend/resend-go/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/bulkmail/mail"
)

var tracer = otel.Tracer("github.com/pure-golang/bulkmail/mail/resend")

var _ mail.Sender = (*Sender)(nil)

// Sender implements mail.Sender using the Resend API.
type Sender struct {
	mx     sync.Mutex
	client *resend.Client
	status *statusTransport
	cfg    Config
	closed bool
}

// SenderOptions contains options for creating a Sender.
type SenderOptions struct {
	// HTTPClient is used for API calls. Its transport gets wrapped.
	HTTPClient *http.Client
}

// NewSender creates a Resend sender.
func NewSender(cfg Config, options *SenderOptions) (*Sender, error) {
	base := http.DefaultTransport
	httpClient := &http.Client{}
	if options != nil && options.HTTPClient != nil {
		*httpClient = *options.HTTPClient
		if httpClient.Transport != nil {
			base = httpClient.Transport
		}
	}
	status := &statusTransport{next: base}
	httpClient.Transport = status

	client := resend.NewCustomClient(httpClient, cfg.APIKey)
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid RESEND_BASE_URL %q", cfg.BaseURL)
		}
		client.BaseURL = u
	}

	return &Sender{client: client, status: status, cfg: cfg}, nil
}

// Send sends each email with a separate API call.
func (s *Sender) Send(ctx context.Context, emails ...mail.Email) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return errors.New("sender is closed")
	}

	for _, email := range emails {
		if err := s.send(ctx, email); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) send(ctx context.Context, email mail.Email) error {
	ctx, span := tracer.Start(ctx, "Resend.Send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.Int("resend.to_count", len(email.To)),
		attribute.Int("resend.attachments_count", len(email.Attachments)),
	)

	if s.cfg.APIKey == "" {
		err := mail.Configuration(nil, "missing Resend API key")
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	req, err := s.request(email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.status.reset()
	resp, err := s.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch s.status.last() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return mail.Configuration(err, "resend rejected credentials")
		default:
			return mail.Transport(err, "resend: failed to send email")
		}
	}

	span.SetAttributes(attribute.String("resend.id", resp.Id))
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Sender) request(email mail.Email) (*resend.SendEmailRequest, error) {
	from := email.From
	if from.Address == "" {
		from = mail.Address{Name: s.cfg.FromName, Address: s.cfg.From}
	}
	if from.Address == "" {
		return nil, mail.Configuration(nil, "no from address specified")
	}

	to := addresses(email.To)
	if len(to) == 0 && len(email.Cc) == 0 && len(email.Bcc) == 0 {
		return nil, errors.New("no recipients specified")
	}

	if err := email.CheckHeaders(); err != nil {
		return nil, err
	}

	req := &resend.SendEmailRequest{
		From:    formatAddress(from),
		To:      to,
		Cc:      addresses(email.Cc),
		Bcc:     addresses(email.Bcc),
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Body,
		Headers: email.Headers,
	}
	if len(email.ReplyTo) > 0 {
		req.ReplyTo = email.ReplyTo[0].Address
	}
	for _, a := range email.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		})
	}
	return req, nil
}

// Close closes the sender.
func (s *Sender) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.closed = true
	return nil
}

func formatAddress(a mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

func addresses(list []mail.Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, formatAddress(a))
	}
	return out
}

// statusTransport remembers the status code of the last API response.
type statusTransport struct {
	next http.RoundTripper

	mx     sync.Mutex
	status int
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if resp != nil {
		t.mx.Lock()
		t.status = resp.StatusCode
		t.mx.Unlock()
	}
	return resp, err
}

func (t *statusTransport) reset() {
	t.mx.Lock()
	t.status = 0
	t.mx.Unlock()
}

func (t *statusTransport) last() int {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.status
}
