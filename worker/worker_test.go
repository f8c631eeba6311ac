package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pure-golang/bulkmail/campaign"
	"github.com/pure-golang/bulkmail/campaign/memory"
	"github.com/pure-golang/bulkmail/dispatch"
	kvmemory "github.com/pure-golang/bulkmail/kv/memory"
	"github.com/pure-golang/bulkmail/mail/noop"
	"github.com/pure-golang/bulkmail/queue"
	"github.com/pure-golang/bulkmail/recipient"
)

type runnerFunc func(ctx context.Context, req campaign.Request, onProgress dispatch.ProgressFunc) (campaign.Campaign, dispatch.Result, error)

func (f runnerFunc) Run(ctx context.Context, req campaign.Request, onProgress dispatch.ProgressFunc) (campaign.Campaign, dispatch.Result, error) {
	return f(ctx, req, onProgress)
}

// chanSubscriber hands deliveries from a channel to the handler.
type chanSubscriber struct {
	deliveries chan queue.Delivery
	done       chan struct{}
	once       sync.Once

	mx      sync.Mutex
	retries []bool
	errs    []error
}

func newChanSubscriber() *chanSubscriber {
	return &chanSubscriber{deliveries: make(chan queue.Delivery), done: make(chan struct{})}
}

func (s *chanSubscriber) Listen(h queue.Handler) {
	for {
		select {
		case <-s.done:
			return
		case d := <-s.deliveries:
			retry, err := h(context.Background(), d)
			s.mx.Lock()
			s.retries = append(s.retries, retry)
			s.errs = append(s.errs, err)
			s.mx.Unlock()
		}
	}
}

func (s *chanSubscriber) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

const (
	campaignID      = "3f6c1d2e-8a4b-4c5d-9e7f-0a1b2c3d4e5f"
	otherCampaignID = "9b2e4f60-1c3d-4e5f-8a7b-6c5d4e3f2a1b"
)

func delivery(t *testing.T, req campaign.Request) queue.Delivery {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return queue.Delivery{Body: body, Attempt: 1}
}

func testRequest() campaign.Request {
	return campaign.Request{
		ID:         campaignID,
		Name:       "Spring",
		Subject:    "Hi {name}",
		HTML:       "<p>Hello {name}</p>",
		Recipients: []recipient.Recipient{{"email": "ann@example.com", "name": "Ann"}, {"email": "bob@example.com"}},
	}
}

func TestHandle_RunsCampaign(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	sender := noop.NewSender()
	service := campaign.NewService(store, dispatch.New(sender, nil), nil)
	w := New(service, newChanSubscriber())

	retry, err := w.Handle(context.Background(), delivery(t, testRequest()))
	require.NoError(t, err)
	assert.False(t, retry)
	assert.Len(t, sender.Sent(), 2)

	c, err := store.GetCampaign(context.Background(), campaignID)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusCompleted, c.Status)
	assert.Equal(t, 2, c.SentCount)

	retry, err = w.Handle(context.Background(), delivery(t, testRequest()))
	assert.NoError(t, err, "redelivery is dropped")
	assert.False(t, retry)
	assert.Len(t, sender.Sent(), 2, "nothing is sent twice")
}

func TestHandle_LockHeldIsRetried(t *testing.T) {
	t.Parallel()

	locks := kvmemory.NewStore(nil)
	_, err := locks.SetNX(context.Background(), campaign.LockKey, "other", time.Hour)
	require.NoError(t, err)

	service := campaign.NewService(memory.NewStore(), dispatch.New(noop.NewSender(), nil),
		&campaign.ServiceOptions{Locks: locks})
	w := New(service, newChanSubscriber())

	retry, err := w.Handle(context.Background(), delivery(t, testRequest()))
	require.ErrorIs(t, err, campaign.ErrRunInProgress)
	assert.True(t, retry)
}

func TestHandle_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body []byte
		run  error
	}{
		{name: "undecodable body", body: []byte("{not json")},
		{name: "invalid request", run: errors.Wrap(campaign.ErrInvalidRequest, "no recipients")},
		{name: "run failed", run: errors.New("dispatch interrupted")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := New(runnerFunc(func(context.Context, campaign.Request, dispatch.ProgressFunc) (campaign.Campaign, dispatch.Result, error) {
				return campaign.Campaign{}, dispatch.Result{}, tt.run
			}), newChanSubscriber())

			d := delivery(t, testRequest())
			if tt.body != nil {
				d.Body = tt.body
			}
			retry, err := w.Handle(context.Background(), d)
			assert.Error(t, err)
			assert.False(t, retry, "a failed run is never redelivered")
		})
	}
}

func TestWorker_StartAndClose(t *testing.T) {
	t.Parallel()

	var got []string
	var mx sync.Mutex
	sub := newChanSubscriber()
	w := New(runnerFunc(func(_ context.Context, req campaign.Request, _ dispatch.ProgressFunc) (campaign.Campaign, dispatch.Result, error) {
		mx.Lock()
		got = append(got, req.ID)
		mx.Unlock()
		return campaign.Campaign{ID: req.ID}, dispatch.Result{}, nil
	}), sub)

	stopped := make(chan error)
	go func() { stopped <- w.Start() }()

	first, second := testRequest(), testRequest()
	second.ID = otherCampaignID
	sub.deliveries <- delivery(t, first)
	sub.deliveries <- delivery(t, second)

	require.NoError(t, w.Close())
	require.NoError(t, <-stopped)

	mx.Lock()
	defer mx.Unlock()
	assert.Equal(t, []string{campaignID, otherCampaignID}, got)
}
