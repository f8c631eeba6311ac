package dispatch

import (
	"context"
	"time"

	"github.com/pure-golang/bulkmail/mail"
)

// Kind classifies a progress event.
type Kind string

const (
	KindSent    Kind = "sent"
	KindFailed  Kind = "failed"
	KindWaiting Kind = "waiting"
)

// Event is a progress notification. Every recipient produces exactly one sent or
// failed event with Current = index+1; waiting events carry the index of the
// recipient about to be processed.
type Event struct {
	Current int           `json:"current"`
	Total   int           `json:"total"`
	Message string        `json:"message"`
	Kind    Kind          `json:"kind"`
	Email   string        `json:"email,omitempty"`
	Error   string        `json:"error,omitempty"`
	Wait    time.Duration `json:"wait,omitempty"`
}

// ProgressFunc receives events synchronously from the dispatch loop.
type ProgressFunc func(Event)

// Failure records why a recipient was not sent.
type Failure struct {
	Index   int    `json:"index"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Result is the outcome of a run. Sent + Failed equals the number of attempted recipients.
type Result struct {
	Sent   int       `json:"sent"`
	Failed int       `json:"failed"`
	Total  int       `json:"total"`
	Errors []Failure `json:"errors"`
}

// Attempted returns how many recipients were processed.
func (r Result) Attempted() int {
	return r.Sent + r.Failed
}

// Complete reports whether every recipient was processed.
func (r Result) Complete() bool {
	return r.Attempted() == r.Total
}

// FailurePolicy decides what happens after a configuration error.
type FailurePolicy int

const (
	// ContinueOnConfigError attempts every recipient regardless of earlier failures.
	ContinueOnConfigError FailurePolicy = iota
	// AbortOnConfigError stops sending after the first configuration error;
	// the remaining recipients are recorded as failed.
	AbortOnConfigError
)

// Renderer renders templates for one recipient.
type Renderer interface {
	RenderSubject(tpl string, data map[string]string) (string, error)
	RenderHTML(tpl string, data map[string]string) (string, error)
}

// AttachmentSource resolves attachment keys to files. Keys that do not exist
// are skipped by implementations rather than failing the run.
type AttachmentSource interface {
	Load(ctx context.Context, keys ...string) ([]mail.Attachment, error)
}

// Clock abstracts time for the rate limiter.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}
