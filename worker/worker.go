// Package worker runs queued campaign requests, one at a time.
package worker

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/campaign"
	"github.com/pure-golang/bulkmail/dispatch"
	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/queue"
	"github.com/pure-golang/bulkmail/queue/encoders"
)

// Runner runs a campaign. *campaign.Service implements it.
type Runner interface {
	Run(ctx context.Context, req campaign.Request, onProgress dispatch.ProgressFunc) (campaign.Campaign, dispatch.Result, error)
}

var _ Runner = (*campaign.Service)(nil)

// Worker feeds deliveries of a subscriber to a Runner.
type Worker struct {
	runner     Runner
	subscriber queue.Subscriber
}

func New(runner Runner, subscriber queue.Subscriber) *Worker {
	return &Worker{runner: runner, subscriber: subscriber}
}

// Start blocks until Close.
func (w *Worker) Start() error {
	w.subscriber.Listen(w.Handle)
	return nil
}

// Close stops the subscriber. A run in progress is interrupted and its partial
// outcome stored.
func (w *Worker) Close() error {
	return errors.Wrap(w.subscriber.Close(), "failed to close subscriber")
}

// Handle runs one campaign request. Only a run blocked by another one is
// redelivered: any other failure may follow sent emails, and sending is never
// repeated. A request whose campaign already exists is a redelivery and is dropped.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) (retry bool, err error) {
	var req campaign.Request
	if err := (encoders.JSON{}).Decode(d.Body, &req); err != nil {
		return false, errors.Wrap(err, "failed to decode campaign request")
	}

	log := logger.FromContext(ctx).With("campaign_id", req.ID, "attempt", d.Attempt)
	ctx = logger.NewContext(ctx, log)

	c, res, err := w.runner.Run(ctx, req, nil)
	switch {
	case err == nil:
		log.Info("campaign processed", "status", c.Status, "sent", res.Sent, "failed", res.Failed)
		return false, nil
	case errors.Is(err, campaign.ErrRunInProgress):
		return true, err
	case errors.Is(err, campaign.ErrAlreadyExists):
		log.Warn("duplicate campaign request dropped")
		return false, nil
	}
	return false, err
}
