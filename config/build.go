package config

import (
	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/dispatch"
	"github.com/pure-golang/bulkmail/mail"
	"github.com/pure-golang/bulkmail/mail/noop"
	"github.com/pure-golang/bulkmail/mail/resend"
	"github.com/pure-golang/bulkmail/mail/smtp"
	"github.com/pure-golang/bulkmail/template"
)

// NewSender creates the mail transport selected by MAIL_PROVIDER.
func (c *Config) NewSender() (mail.Sender, error) {
	switch c.MailProvider {
	case MailSMTP:
		return smtp.NewSender(c.SMTP, nil), nil
	case MailResend:
		s, err := resend.NewSender(c.Resend, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create resend sender")
		}
		return s, nil
	case MailNoop:
		return noop.NewSender(), nil
	}
	return nil, errors.Wrapf(ErrInvalid, "unknown MAIL_PROVIDER %q", c.MailProvider)
}

// Policy returns the dispatcher reaction to configuration errors.
func (c *Config) Policy() dispatch.FailurePolicy {
	if c.FailurePolicy == PolicyAbort {
		return dispatch.AbortOnConfigError
	}
	return dispatch.ContinueOnConfigError
}

// NewDispatcher creates a dispatcher over sender with the configured policy.
func (c *Config) NewDispatcher(sender mail.Sender) *dispatch.Dispatcher {
	return dispatch.New(sender, &dispatch.Options{
		Renderer:  template.NewRenderer(&template.RendererOptions{SanitizeValues: c.SanitizeValues}),
		Policy:    c.Policy(),
		Preflight: c.Preflight,
	})
}
