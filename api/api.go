// Package api is the JSON HTTP interface: campaign history, live progress,
// templates and the campaign submission endpoint that feeds the worker queue.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/campaign"
	"github.com/pure-golang/bulkmail/httpserver/middleware"
	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/progress"
	"github.com/pure-golang/bulkmail/queue"
	"github.com/pure-golang/bulkmail/template"
)

// MaxBodySize bounds request bodies.
const MaxBodySize = 10 << 20

// Templates lists and resolves stored templates.
type Templates interface {
	List(ctx context.Context) ([]template.Template, error)
	Get(ctx context.Context, id string) (template.Template, error)
}

// Campaigns renders and test-sends requests. *campaign.Service implements it.
type Campaigns interface {
	Preview(ctx context.Context, req campaign.Request) (subject, html string, err error)
	SendTest(ctx context.Context, req campaign.Request, to string) error
}

// Progress reads live campaign progress.
type Progress interface {
	Get(ctx context.Context, campaignID string) (progress.State, error)
}

// Pinger is checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	_ Campaigns = (*campaign.Service)(nil)
	_ Progress  = (*progress.Snapshots)(nil)
)

// Options wires the handler. Store and Campaigns are required.
type Options struct {
	Store     campaign.Store
	Campaigns Campaigns
	// Templates defaults to template.Builtin.
	Templates Templates
	Progress  Progress
	// Publisher receives submitted campaigns on Topic. Without it
	// POST /campaigns answers 503.
	Publisher queue.Publisher
	Topic     string
	Health    map[string]Pinger
	// Metrics is served on GET /metrics when set.
	Metrics http.Handler
}

type handler struct {
	opts Options
}

// NewHandler returns the API wrapped in the recovery and monitoring middleware.
func NewHandler(opts Options) http.Handler {
	if opts.Templates == nil {
		opts.Templates = template.Builtin{}
	}
	if opts.Topic == "" {
		opts.Topic = queue.TopicCampaigns
	}
	h := &handler{opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /stats", h.stats)
	mux.HandleFunc("GET /campaigns", h.listCampaigns)
	mux.HandleFunc("POST /campaigns", h.submitCampaign)
	mux.HandleFunc("POST /campaigns/test", h.testCampaign)
	mux.HandleFunc("GET /campaigns/{id}", h.getCampaign)
	mux.HandleFunc("GET /campaigns/{id}/logs", h.listLogs)
	mux.HandleFunc("GET /campaigns/{id}/progress", h.getProgress)
	mux.HandleFunc("GET /templates", h.listTemplates)
	mux.HandleFunc("GET /templates/{id}", h.getTemplate)
	mux.HandleFunc("POST /templates/preview", h.preview)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	return middleware.Recovery(middleware.Monitoring(mux))
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContextWithErr(ctx, err).Warn("failed to write response")
	}
}

// writeError maps domain errors to statuses. Unexpected errors are logged and
// answered with a generic message.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, template.ErrNotFound),
		errors.Is(err, progress.ErrNoSnapshot):
		status = http.StatusNotFound
	case errors.Is(err, campaign.ErrInvalidRequest),
		errors.Is(err, template.ErrMissingVariable),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, campaign.ErrRunInProgress):
		status = http.StatusConflict
	case errors.Is(err, errUnavailable):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContextWithErr(ctx, err).Error("request failed")
		msg = http.StatusText(status)
	}
	writeJSON(ctx, w, status, errorResponse{Error: msg})
}

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("not configured")
)

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrapf(errBadRequest, "invalid JSON body: %v", err)
	}
	return nil
}
