package campaign

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/pure-golang/bulkmail/dispatch"
	"github.com/pure-golang/bulkmail/kv"
	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/progress"
	"github.com/pure-golang/bulkmail/recipient"
	"github.com/pure-golang/bulkmail/storage"
	"github.com/pure-golang/bulkmail/template"
)

// DefaultRatePerMinute is used when neither the request nor the service sets a rate.
const DefaultRatePerMinute = 30

// DefaultLockTTL bounds how long a crashed run blocks the next one.
const DefaultLockTTL = 12 * time.Hour

// PreviewEmail stands in for the address when a preview has no recipients.
const PreviewEmail = "john.doe@example.com"

// LockKey guards the single configured sender against concurrent runs.
const LockKey = "bulkmail:lock:dispatch"

var (
	tracer = otel.Tracer("github.com/pure-golang/bulkmail/campaign")
	meter  = otel.GetMeterProvider().Meter("github.com/pure-golang/bulkmail/campaign")
	// nolint:errcheck // Sync OpenTelemetry instruments never return errors
	runsCount, _   = meter.Int64Counter("bulkmail.campaign.runs")
	runDuration, _ = meter.Float64Histogram("bulkmail.campaign.duration", metric.WithUnit("s"))
)

// TemplateSource resolves stored templates.
type TemplateSource interface {
	Get(ctx context.Context, id string) (template.Template, error)
}

// Request describes a campaign to run.
type Request struct {
	// ID is generated when empty.
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	// HTML is the body template. When empty it is taken from TemplateID,
	// as is an empty Subject.
	HTML       string                `json:"html,omitempty"`
	TemplateID string                `json:"template_id,omitempty"`
	Recipients []recipient.Recipient `json:"recipients"`
	// FieldValues fill fields that recipients lack or leave empty.
	FieldValues map[string]string `json:"field_values,omitempty"`
	// Attachments are object keys under storage.AttachmentsPrefix.
	Attachments   []string `json:"attachments,omitempty"`
	RatePerMinute int      `json:"rate_per_minute,omitempty"`
}

// Report is archived to object storage after every run.
type Report struct {
	Campaign Campaign        `json:"campaign"`
	Result   dispatch.Result `json:"result"`
}

// Service runs campaigns.
type Service struct {
	store       Store
	dispatcher  *dispatch.Dispatcher
	templates   TemplateSource
	attachments dispatch.AttachmentSource
	reports     storage.Storage
	locks       kv.Store
	snapshots   *progress.Snapshots
	events      *progress.Events
	rate        int
	lockTTL     time.Duration
	now         func() time.Time
}

// ServiceOptions configures a Service. Every field is optional.
type ServiceOptions struct {
	Templates   TemplateSource
	Attachments dispatch.AttachmentSource
	// Reports receives a JSON report per run under storage.ReportsPrefix.
	Reports storage.Storage
	// Locks holds LockKey for the duration of a run.
	Locks     kv.Store
	Snapshots *progress.Snapshots
	Events    *progress.Events
	// RatePerMinute defaults to DefaultRatePerMinute.
	RatePerMinute int
	LockTTL       time.Duration
	Now           func() time.Time
}

// NewService creates a Service.
func NewService(store Store, dispatcher *dispatch.Dispatcher, options *ServiceOptions) *Service {
	s := &Service{
		store:      store,
		dispatcher: dispatcher,
		rate:       DefaultRatePerMinute,
		lockTTL:    DefaultLockTTL,
		now:        time.Now,
	}
	if options == nil {
		return s
	}
	s.templates = options.Templates
	s.attachments = options.Attachments
	s.reports = options.Reports
	s.locks = options.Locks
	s.snapshots = options.Snapshots
	s.events = options.Events
	if options.RatePerMinute > 0 {
		s.rate = options.RatePerMinute
	}
	if options.LockTTL > 0 {
		s.lockTTL = options.LockTTL
	}
	if options.Now != nil {
		s.now = options.Now
	}
	return s
}

// Run records and dispatches a campaign.
//
// The campaign is stored as sending, every recipient is merged with the field
// values and the sample defaults into a copy, and one log per attempted
// recipient is written after the dispatch. The campaign ends completed, or
// failed when the dispatch returned an error; the partial outcome of an
// interrupted run is stored before the error is returned.
func (s *Service) Run(ctx context.Context, req Request, onProgress dispatch.ProgressFunc) (Campaign, dispatch.Result, error) {
	ctx, span := tracer.Start(ctx, "Service.Run")
	defer span.End()

	if err := s.resolveTemplate(ctx, &req); err != nil {
		span.RecordError(err)
		return Campaign{}, dispatch.Result{}, err
	}
	if err := req.validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Campaign{}, dispatch.Result{}, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	rate := req.RatePerMinute
	if rate <= 0 {
		rate = s.rate
	}

	span.SetAttributes(
		attribute.String("campaign.id", req.ID),
		attribute.Int("campaign.recipients", len(req.Recipients)),
	)
	log := logger.FromContext(ctx).WithGroup("campaign").With("campaign_id", req.ID)
	ctx = logger.NewContext(ctx, log)

	unlock, err := s.lock(ctx, req.ID)
	if err != nil {
		span.RecordError(err)
		return Campaign{}, dispatch.Result{}, err
	}
	defer unlock()

	started := s.now()
	c := Campaign{
		ID:              req.ID,
		Name:            req.Name,
		Subject:         req.Subject,
		TemplateID:      req.TemplateID,
		RecipientsCount: len(req.Recipients),
		Status:          StatusSending,
		CreatedAt:       started.UTC(),
	}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		span.RecordError(err)
		return Campaign{}, dispatch.Result{}, errors.Wrap(err, "failed to create campaign")
	}

	recipients := s.prepareRecipients(req, started)

	var opts []dispatch.RunOption
	opts = append(opts, dispatch.WithHeaders(map[string]string{"X-Campaign-Id": c.ID}))
	if s.attachments != nil && len(req.Attachments) > 0 {
		files, err := s.attachments.Load(ctx, req.Attachments...)
		if err != nil {
			return s.abort(ctx, c, errors.Wrap(err, "failed to load attachments"))
		}
		opts = append(opts, dispatch.WithAttachments(files...))
	}

	if s.snapshots != nil {
		if err := s.snapshots.Start(ctx, c.ID, len(recipients)); err != nil {
			log.Warn("failed to start progress snapshot", "error", err.Error())
		}
	}

	log.Info("campaign started", "recipients", len(recipients), "rate_per_minute", rate)
	res, runErr := s.dispatcher.SendBulk(ctx, recipients, req.Subject, req.HTML, rate,
		s.progress(ctx, c.ID, onProgress), opts...)

	// The outcome is stored even when ctx was cancelled mid-run.
	persistCtx := context.WithoutCancel(ctx)

	c.SentCount = res.Sent
	c.FailedCount = res.Failed
	c.Status = StatusCompleted
	if runErr != nil {
		c.Status = StatusFailed
		c.Error = runErr.Error()
	}
	done := s.now().UTC()
	c.CompletedAt = &done

	if err := s.store.AddLogs(persistCtx, buildLogs(c.ID, recipients, res, done)); err != nil {
		runErr = stderrors.Join(runErr, errors.Wrap(err, "failed to store email logs"))
	}
	if err := s.store.FinishCampaign(persistCtx, c); err != nil {
		runErr = stderrors.Join(runErr, errors.Wrap(err, "failed to finish campaign"))
	}
	s.finish(persistCtx, c, res, started)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		log.Error("campaign failed", "error", runErr.Error(), "sent", res.Sent, "failed", res.Failed)
		return c, res, runErr
	}

	span.SetStatus(codes.Ok, "")
	log.Info("campaign completed", "sent", res.Sent, "failed", res.Failed)
	return c, res, nil
}

// SendTest renders the request for one address using the sample defaults and
// sends it without recording a campaign.
func (s *Service) SendTest(ctx context.Context, req Request, to string) error {
	ctx, span := tracer.Start(ctx, "Service.SendTest")
	defer span.End()

	if !recipient.ValidEmail(to) {
		return errors.Wrapf(ErrInvalidRequest, "invalid test address %q", to)
	}
	if err := s.resolveTemplate(ctx, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.HTML) == "" {
		return errors.Wrap(ErrInvalidRequest, "subject and body are required")
	}

	data := recipient.Recipient{recipient.EmailField: to}
	if len(req.Recipients) > 0 {
		data = req.Recipients[0].Clone()
		data[recipient.EmailField] = to
	}
	data = data.WithDefaults(req.FieldValues).WithDefaults(recipient.SampleDefaults(s.now()))

	var opts []dispatch.RunOption
	if s.attachments != nil && len(req.Attachments) > 0 {
		files, err := s.attachments.Load(ctx, req.Attachments...)
		if err != nil {
			return errors.Wrap(err, "failed to load attachments")
		}
		opts = append(opts, dispatch.WithAttachments(files...))
	}

	res, err := s.dispatcher.SendBulk(ctx, []recipient.Recipient{data}, "[TEST] "+req.Subject, req.HTML, 1, nil, opts...)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if res.Failed > 0 {
		err := errors.Errorf("failed to send test email to %s: %s", to, res.Errors[0].Message)
		span.RecordError(err)
		return err
	}
	return nil
}

// Preview renders the subject and the body for the first recipient merged with
// the field values and the sample defaults, exactly as the dispatcher would.
func (s *Service) Preview(ctx context.Context, req Request) (subject, html string, err error) {
	if err := s.resolveTemplate(ctx, &req); err != nil {
		return "", "", err
	}

	data := recipient.Recipient{recipient.EmailField: PreviewEmail}
	if len(req.Recipients) > 0 {
		data = req.Recipients[0]
	}
	data = data.WithDefaults(req.FieldValues).WithDefaults(recipient.SampleDefaults(s.now()))

	return s.dispatcher.Render(req.Subject, req.HTML, data)
}

// Validate checks a request before it is queued: a set ID must be a UUID and
// every recipient needs a valid address. A request naming a template without
// a body gets its subject and body checked when it runs.
func (r *Request) Validate() error {
	return r.check(r.HTML != "" || r.TemplateID == "")
}

func (r *Request) validate() error {
	return r.check(true)
}

func (r *Request) check(content bool) error {
	var problems []string
	if content && strings.TrimSpace(r.Subject) == "" {
		problems = append(problems, "subject is required")
	}
	if content && strings.TrimSpace(r.HTML) == "" {
		problems = append(problems, "body template is required")
	}
	if len(r.Recipients) == 0 {
		problems = append(problems, "no recipients")
	}
	if r.ID != "" {
		if id, err := uuid.Parse(r.ID); err != nil || id.String() != r.ID {
			problems = append(problems, "id must be a lowercase hyphenated UUID")
		}
	}

	missing := -1
	var invalid []string
	for i, rcpt := range r.Recipients {
		switch email := rcpt.Email(); {
		case email == "":
			if missing < 0 {
				missing = i
			}
		case !recipient.ValidEmail(email):
			invalid = append(invalid, fmt.Sprintf("%q", email))
		}
	}
	if missing >= 0 {
		problems = append(problems, fmt.Sprintf("recipient %d has no email", missing))
	}
	if len(invalid) > 0 {
		problems = append(problems, "invalid addresses: "+strings.Join(invalid, ", "))
	}
	if len(problems) > 0 {
		return errors.Wrap(ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

func (s *Service) resolveTemplate(ctx context.Context, req *Request) error {
	if req.HTML != "" || req.TemplateID == "" {
		return nil
	}
	if s.templates == nil {
		return errors.Wrap(ErrInvalidRequest, "template repository is not configured")
	}
	tpl, err := s.templates.Get(ctx, req.TemplateID)
	if err != nil {
		return errors.Wrapf(err, "failed to load template %s", req.TemplateID)
	}
	req.HTML = tpl.HTML
	if req.Subject == "" {
		req.Subject = tpl.Subject
	}
	return nil
}

func (s *Service) prepareRecipients(req Request, now time.Time) []recipient.Recipient {
	sample := recipient.SampleDefaults(now)
	out := make([]recipient.Recipient, len(req.Recipients))
	for i, r := range req.Recipients {
		out[i] = r.WithDefaults(req.FieldValues).WithDefaults(sample)
	}
	return out
}

func (s *Service) progress(ctx context.Context, id string, onProgress dispatch.ProgressFunc) dispatch.ProgressFunc {
	fns := []dispatch.ProgressFunc{progress.Log(ctx, id), onProgress}
	if s.snapshots != nil {
		fns = append(fns, s.snapshots.Track(ctx, id))
	}
	if s.events != nil {
		fns = append(fns, s.events.Publish(ctx, id))
	}
	return progress.Fanout(fns...)
}

func (s *Service) lock(ctx context.Context, id string) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	ok, err := s.locks.SetNX(ctx, LockKey, id, s.lockTTL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire dispatch lock")
	}
	if !ok {
		holder, _ := s.locks.Get(ctx, LockKey)
		return nil, errors.Wrapf(ErrRunInProgress, "held by campaign %s", holder)
	}
	return func() {
		if err := s.locks.Delete(context.WithoutCancel(ctx), LockKey); err != nil {
			logger.FromContextWithErr(ctx, err).Warn("failed to release dispatch lock")
		}
	}, nil
}

// abort marks a campaign failed before any email was sent.
func (s *Service) abort(ctx context.Context, c Campaign, cause error) (Campaign, dispatch.Result, error) {
	c.Status = StatusFailed
	c.Error = cause.Error()
	done := s.now().UTC()
	c.CompletedAt = &done
	res := dispatch.Result{Total: c.RecipientsCount, Errors: []dispatch.Failure{}}

	err := cause
	if ferr := s.store.FinishCampaign(context.WithoutCancel(ctx), c); ferr != nil {
		err = stderrors.Join(err, errors.Wrap(ferr, "failed to finish campaign"))
	}
	s.finish(context.WithoutCancel(ctx), c, res, s.now())
	return c, res, err
}

// finish records metrics, the final snapshot status and the archived report.
func (s *Service) finish(ctx context.Context, c Campaign, res dispatch.Result, started time.Time) {
	log := logger.FromContext(ctx)

	runsCount.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(c.Status))))
	runDuration.Record(ctx, s.now().Sub(started).Seconds())

	if s.snapshots != nil {
		if err := s.snapshots.Finish(ctx, c.ID, string(c.Status)); err != nil {
			log.Warn("failed to finish progress snapshot", "error", err.Error())
		}
	}

	if s.reports != nil {
		body, err := json.Marshal(Report{Campaign: c, Result: res})
		if err != nil {
			log.Warn("failed to encode campaign report", "error", err.Error())
			return
		}
		key := storage.ReportsPrefix + c.ID + ".json"
		err = s.reports.Put(ctx, key, bytes.NewReader(body), int64(len(body)),
			&storage.PutOptions{ContentType: "application/json"})
		if err != nil {
			log.Warn("failed to archive campaign report", "key", key, "error", err.Error())
		}
	}
}

// buildLogs returns one log per attempted recipient. Recipients are attempted
// in order, so the first res.Attempted() of them were processed.
func buildLogs(campaignID string, recipients []recipient.Recipient, res dispatch.Result, at time.Time) []EmailLog {
	failures := make(map[int]string, len(res.Errors))
	for _, f := range res.Errors {
		failures[f.Index] = f.Message
	}

	n := min(res.Attempted(), len(recipients))
	logs := make([]EmailLog, 0, n)
	for i := range n {
		l := EmailLog{
			CampaignID:     campaignID,
			RecipientEmail: recipients[i].Email(),
			RecipientData:  recipients[i],
			Status:         LogSent,
			SentAt:         at,
		}
		if msg, failed := failures[i]; failed {
			l.Status = LogFailed
			l.ErrorMessage = msg
		}
		logs = append(logs, l)
	}
	return logs
}

var _ dispatch.AttachmentSource = (*storage.Attachments)(nil)
