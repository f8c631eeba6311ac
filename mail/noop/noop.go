package noop

import (
	"context"
	"sync"

	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/mail"
)

var (
	_ mail.Sender   = (*Sender)(nil)
	_ mail.Verifier = (*Sender)(nil)
)

// Sender accepts every email without delivering it. Used for dry runs.
// Accepted emails are kept so callers can inspect what would have been sent.
type Sender struct {
	mx     sync.Mutex
	sent   []mail.Email
	closed bool
}

// NewSender creates a new no-op Sender.
func NewSender() *Sender {
	return &Sender{}
}

// Send records emails and logs their recipients.
func (n *Sender) Send(ctx context.Context, emails ...mail.Email) error {
	n.mx.Lock()
	defer n.mx.Unlock()

	log := logger.FromContext(ctx).WithGroup("mail")
	for _, email := range emails {
		for _, to := range email.To {
			log.Debug("dry run: email discarded", "to", to.Address, "subject", email.Subject)
		}
		n.sent = append(n.sent, email)
	}
	return nil
}

// Verify always succeeds.
func (n *Sender) Verify(context.Context) error {
	return nil
}

// Sent returns a copy of the recorded emails.
func (n *Sender) Sent() []mail.Email {
	n.mx.Lock()
	defer n.mx.Unlock()

	return append([]mail.Email(nil), n.sent...)
}

// Close is a no-op.
func (n *Sender) Close() error {
	n.mx.Lock()
	defer n.mx.Unlock()

	n.closed = true
	return nil
}
