package mail

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrConfiguration marks failures caused by the relay setup rather than the message:
	// rejected credentials, missing credentials or a missing from-address.
	ErrConfiguration = errors.New("mail configuration error")
	// ErrTransport marks dial, TLS, protocol and provider API failures.
	ErrTransport = errors.New("mail transport error")
	// ErrInvalidHeader is returned for a custom header that would break the message framing.
	ErrInvalidHeader = errors.New("invalid mail header")
)

// Sender delivers emails through a relay.
// One call may open and close its own connection; implementations must not keep
// per-recipient state between calls.
type Sender interface {
	Send(ctx context.Context, emails ...Email) error
	io.Closer
}

// Verifier is implemented by senders that can check their credentials without sending.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Email represents an email message.
type Email struct {
	// Envelope
	From    Address
	To      []Address
	Cc      []Address
	Bcc     []Address
	ReplyTo []Address
	Subject string

	// Headers
	Headers map[string]string

	// Body
	Body string // Plain text body
	HTML string // HTML body (optional)

	Attachments []Attachment
}

// CheckHeaders rejects custom headers with an empty or malformed name or a
// value containing a line break.
func (e Email) CheckHeaders() error {
	for k, v := range e.Headers {
		if k == "" || strings.ContainsFunc(k, func(r rune) bool { return r <= ' ' || r >= 0x7f || r == ':' }) {
			return errors.Wrapf(ErrInvalidHeader, "name %q", k)
		}
		if strings.ContainsAny(v, "\r\n") {
			return errors.Wrapf(ErrInvalidHeader, "%s contains a line break", k)
		}
	}
	return nil
}

// Address represents an email address.
type Address struct {
	Name    string // "John Doe"
	Address string // "john@example.com"
}

// Attachment is a file attached to an email.
type Attachment struct {
	Filename    string
	ContentType string // detected from Filename when empty
	Content     []byte
}

// Configuration wraps err so that it matches ErrConfiguration.
// A nil err yields a new error carrying msg.
func Configuration(err error, msg string) error {
	return &classified{kind: ErrConfiguration, err: wrap(err, msg)}
}

// Transport wraps err so that it matches ErrTransport.
// A nil err yields a new error carrying msg.
func Transport(err error, msg string) error {
	return &classified{kind: ErrTransport, err: wrap(err, msg)}
}

func wrap(err error, msg string) error {
	if err == nil {
		return errors.New(msg)
	}
	return errors.Wrap(err, msg)
}

// IsConfiguration reports whether err was caused by the relay setup.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

type classified struct {
	kind error
	err  error
}

func (c *classified) Error() string {
	return c.err.Error()
}

func (c *classified) Unwrap() []error {
	return []error{c.kind, c.err}
}
