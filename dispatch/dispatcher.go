// Package dispatch sends one personalized email per recipient under a fixed-window
// per-minute rate limit and reports progress.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/mail"
	"github.com/pure-golang/bulkmail/recipient"
	"github.com/pure-golang/bulkmail/template"
)

// DefaultWindow is the rate limit window.
const DefaultWindow = time.Minute

var (
	// ErrInvalidRate is returned for a non-positive rate.
	ErrInvalidRate = errors.New("rate per minute must be positive")
	// ErrNoSender is returned when the dispatcher has no mail sender.
	ErrNoSender = errors.New("mail sender is not configured")
)

var (
	tracer = otel.Tracer("github.com/pure-golang/bulkmail/dispatch")
	meter  = otel.GetMeterProvider().Meter("github.com/pure-golang/bulkmail/dispatch")
	// nolint:errcheck // Sync OpenTelemetry instruments never return errors
	sentCount, _   = meter.Int64Counter("bulkmail.dispatch.sent")
	failedCount, _ = meter.Int64Counter("bulkmail.dispatch.failed")
	waitHist, _    = meter.Float64Histogram("bulkmail.dispatch.rate_limit_wait", metric.WithUnit("s"))
)

// Options configures a Dispatcher. Nil options mean defaults.
type Options struct {
	// Renderer defaults to a template.Renderer without sanitizing.
	Renderer Renderer
	// Clock defaults to the wall clock.
	Clock Clock
	// From is the sender of every message. Empty lets the transport choose.
	From mail.Address
	// Policy defaults to ContinueOnConfigError.
	Policy FailurePolicy
	// Preflight verifies the sender credentials before the first recipient
	// when the sender implements mail.Verifier.
	Preflight bool
	// Window defaults to DefaultWindow.
	Window time.Duration
}

// Dispatcher runs bulk sends. It is not safe for concurrent runs against the same
// credentials; callers serialize runs.
type Dispatcher struct {
	sender    mail.Sender
	renderer  Renderer
	clock     Clock
	from      mail.Address
	policy    FailurePolicy
	preflight bool
	window    time.Duration
}

// New creates a Dispatcher.
func New(sender mail.Sender, options *Options) *Dispatcher {
	d := &Dispatcher{
		sender:   sender,
		renderer: template.NewRenderer(nil),
		clock:    SystemClock(),
		window:   DefaultWindow,
	}
	if options == nil {
		return d
	}
	if options.Renderer != nil {
		d.renderer = options.Renderer
	}
	if options.Clock != nil {
		d.clock = options.Clock
	}
	if options.Window > 0 {
		d.window = options.Window
	}
	d.from = options.From
	d.policy = options.Policy
	d.preflight = options.Preflight
	return d
}

// RunOption customizes a single SendBulk call.
type RunOption func(*run)

type run struct {
	attachments []mail.Attachment
	headers     map[string]string
}

// WithAttachments attaches the files to every message of the run.
func WithAttachments(attachments ...mail.Attachment) RunOption {
	return func(r *run) {
		r.attachments = append(r.attachments, attachments...)
	}
}

// WithHeaders adds headers to every message of the run.
func WithHeaders(headers map[string]string) RunOption {
	return func(r *run) {
		r.headers = headers
	}
}

// SendBulk renders and sends one email per recipient in input order.
//
// At most ratePerMinute sends are attempted per window; when the budget is spent
// and the window has not elapsed, a waiting event is emitted and the loop blocks
// for the rest of the window. Render and transport failures are recorded per
// recipient and never stop the run, except under AbortOnConfigError.
//
// Invalid arguments and a failing preflight return an error before any send.
// When ctx is done the partial Result is returned together with the context error.
func (d *Dispatcher) SendBulk(
	ctx context.Context,
	recipients []recipient.Recipient,
	subjectTpl, htmlTpl string,
	ratePerMinute int,
	onProgress ProgressFunc,
	opts ...RunOption,
) (Result, error) {
	total := len(recipients)
	res := Result{Total: total, Errors: make([]Failure, 0)}

	if d.sender == nil {
		return res, ErrNoSender
	}
	if ratePerMinute <= 0 {
		return res, errors.Wrapf(ErrInvalidRate, "got %d", ratePerMinute)
	}

	var rn run
	for _, opt := range opts {
		opt(&rn)
	}

	ctx, span := tracer.Start(ctx, "Dispatcher.SendBulk")
	defer span.End()
	span.SetAttributes(
		attribute.Int("dispatch.total", total),
		attribute.Int("dispatch.rate_per_minute", ratePerMinute),
	)

	log := logger.FromContext(ctx).WithGroup("dispatch")

	emit := func(e Event) {
		if onProgress != nil {
			onProgress(e)
		}
	}

	if v, ok := d.sender.(mail.Verifier); ok && d.preflight {
		if err := v.Verify(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "preflight failed")
			return res, errors.Wrap(err, "preflight check failed")
		}
	}

	var (
		windowStart = d.clock.Now()
		attempts    int
		abortErr    error
	)

	for i, rcpt := range recipients {
		if err := ctx.Err(); err != nil {
			return d.interrupted(ctx, span, res, err)
		}

		email := rcpt.Email()

		if abortErr != nil {
			msg := fmt.Sprintf("not sent after configuration error: %v", abortErr)
			res.fail(i, email, msg)
			failedCount.Add(ctx, 1)
			emit(Event{Current: i + 1, Total: total, Kind: KindFailed, Email: email, Error: msg,
				Message: fmt.Sprintf("Failed to send to %s: %s", email, msg)})
			continue
		}

		if attempts >= ratePerMinute {
			if elapsed := d.clock.Now().Sub(windowStart); elapsed < d.window {
				wait := d.window - elapsed
				emit(Event{Current: i, Total: total, Kind: KindWaiting, Wait: wait,
					Message: fmt.Sprintf("Rate limit reached. Waiting %ds...", int(wait.Seconds()))})
				log.Info("rate limit reached", "wait", wait, "sent", res.Sent, "failed", res.Failed)
				waitHist.Record(ctx, wait.Seconds())

				if err := d.clock.Sleep(ctx, wait); err != nil {
					return d.interrupted(ctx, span, res, err)
				}
			}
			windowStart = d.clock.Now()
			attempts = 0
		}

		err := d.send(ctx, rcpt, subjectTpl, htmlTpl, &rn)
		attempts++

		if err != nil {
			res.fail(i, email, err.Error())
			failedCount.Add(ctx, 1)
			log.Warn("failed to send email", "index", i, "email", email, "error", err.Error())
			emit(Event{Current: i + 1, Total: total, Kind: KindFailed, Email: email, Error: err.Error(),
				Message: fmt.Sprintf("Failed to send to %s: %s", email, err.Error())})

			if d.policy == AbortOnConfigError && mail.IsConfiguration(err) {
				abortErr = err
				log.Error("configuration error, remaining recipients are skipped", "error", err.Error())
			}
			continue
		}

		res.Sent++
		sentCount.Add(ctx, 1)
		emit(Event{Current: i + 1, Total: total, Kind: KindSent, Email: email,
			Message: fmt.Sprintf("Sent to %s", email)})
	}

	span.SetAttributes(
		attribute.Int("dispatch.sent", res.Sent),
		attribute.Int("dispatch.failed", res.Failed),
	)
	span.SetStatus(codes.Ok, "")
	log.Info("bulk send finished", "total", total, "sent", res.Sent, "failed", res.Failed)

	return res, nil
}

// send renders and delivers the message for one recipient.
// Render renders the subject and the body for one recipient with the renderer
// SendBulk uses.
func (d *Dispatcher) Render(subjectTpl, htmlTpl string, rcpt recipient.Recipient) (subject, html string, err error) {
	data := map[string]string(rcpt)
	if subject, err = d.renderer.RenderSubject(subjectTpl, data); err != nil {
		return "", "", errors.Wrap(err, "failed to render subject")
	}
	if html, err = d.renderer.RenderHTML(htmlTpl, data); err != nil {
		return "", "", errors.Wrap(err, "failed to render body")
	}
	return subject, html, nil
}

func (d *Dispatcher) send(ctx context.Context, rcpt recipient.Recipient, subjectTpl, htmlTpl string, rn *run) error {
	subject, html, err := d.Render(subjectTpl, htmlTpl, rcpt)
	if err != nil {
		return err
	}

	email := mail.Email{
		From:        d.from,
		To:          []mail.Address{{Name: rcpt["name"], Address: rcpt.Email()}},
		Subject:     subject,
		HTML:        html,
		Headers:     rn.headers,
		Attachments: rn.attachments,
	}

	return d.sender.Send(ctx, email)
}

func (d *Dispatcher) interrupted(ctx context.Context, span trace.Span, res Result, err error) (Result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "interrupted")
	span.SetAttributes(
		attribute.Int("dispatch.sent", res.Sent),
		attribute.Int("dispatch.failed", res.Failed),
	)
	logger.FromContext(ctx).WithGroup("dispatch").Warn("bulk send interrupted",
		"attempted", res.Attempted(), "total", res.Total)
	return res, errors.Wrap(err, "dispatch interrupted")
}

func (r *Result) fail(index int, email, msg string) {
	r.Failed++
	r.Errors = append(r.Errors, Failure{Index: index, Email: email, Message: msg})
}
