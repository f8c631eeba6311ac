package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/campaign"
	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/queue"
)

const healthTimeout = 3 * time.Second

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.opts.Health))
	status := http.StatusOK
	for name, p := range h.opts.Health {
		if err := p.Ping(ctx); err != nil {
			logger.FromContextWithErr(ctx, err).Warn("health check failed", "check", name)
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(r.Context(), w, status, map[string]any{
		"status": http.StatusText(status),
		"checks": checks,
	})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.opts.Store.Stats(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, st)
}

func (h *handler) listCampaigns(w http.ResponseWriter, r *http.Request) {
	opts := campaign.ListOptions{Limit: 50}
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(r.Context(), w, errors.Wrapf(errBadRequest, "invalid %s %q", name, v))
			return
		}
		*dst = n
	}

	list, err := h.opts.Store.ListCampaigns(r.Context(), opts)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, list)
}

func (h *handler) getCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.opts.Store.GetCampaign(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, c)
}

func (h *handler) listLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status := campaign.LogStatus(r.URL.Query().Get("status"))
	switch status {
	case "", campaign.LogSent, campaign.LogFailed:
	default:
		writeError(r.Context(), w, errors.Wrapf(errBadRequest, "invalid status %q", status))
		return
	}

	if _, err := h.opts.Store.GetCampaign(r.Context(), id); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	logs, err := h.opts.Store.ListLogs(r.Context(), id, status)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, logs)
}

func (h *handler) getProgress(w http.ResponseWriter, r *http.Request) {
	if h.opts.Progress == nil {
		writeError(r.Context(), w, errors.Wrap(errUnavailable, "progress tracking"))
		return
	}
	st, err := h.opts.Progress.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, st)
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// submitCampaign queues a campaign for the worker. The ID is assigned here so
// a redelivered request maps to the same campaign record.
func (h *handler) submitCampaign(w http.ResponseWriter, r *http.Request) {
	if h.opts.Publisher == nil {
		writeError(r.Context(), w, errors.Wrap(errUnavailable, "campaign queue"))
		return
	}

	var req campaign.Request
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if req.TemplateID != "" && req.HTML == "" {
		if _, err := h.opts.Templates.Get(r.Context(), req.TemplateID); err != nil {
			writeError(r.Context(), w, err)
			return
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	err := h.opts.Publisher.Publish(r.Context(), queue.Message{
		Topic: h.opts.Topic,
		Key:   req.ID,
		Body:  req,
	})
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "failed to queue campaign"))
		return
	}

	logger.FromContext(r.Context()).Info("campaign queued", "campaign_id", req.ID, "recipients", len(req.Recipients))
	writeJSON(r.Context(), w, http.StatusAccepted, submitResponse{ID: req.ID, Status: "queued"})
}

type testRequest struct {
	To      string           `json:"to"`
	Request campaign.Request `json:"request"`
}

func (h *handler) testCampaign(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := h.opts.Campaigns.SendTest(r.Context(), req.Request, req.To); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "sent", "to": req.To})
}

func (h *handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.opts.Templates.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, list)
}

func (h *handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.opts.Templates.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, t)
}

type previewResponse struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (h *handler) preview(w http.ResponseWriter, r *http.Request) {
	var req campaign.Request
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	subject, html, err := h.opts.Campaigns.Preview(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, previewResponse{Subject: subject, HTML: html})
}
