package progress

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/pure-golang/bulkmail/dispatch"
	"github.com/pure-golang/bulkmail/kv"
	"github.com/pure-golang/bulkmail/logger"
)

var tracer = otel.Tracer("github.com/pure-golang/bulkmail/progress")

// DefaultSnapshotTTL keeps a finished snapshot readable for a day.
const DefaultSnapshotTTL = 24 * time.Hour

// ErrNoSnapshot is returned by Get when the campaign has no snapshot.
var ErrNoSnapshot = errors.New("no progress snapshot")

const keyPrefix = "bulkmail:progress:"

const (
	fieldCurrent   = "current"
	fieldTotal     = "total"
	fieldSent      = "sent"
	fieldFailed    = "failed"
	fieldMessage   = "message"
	fieldKind      = "kind"
	fieldStatus    = "status"
	fieldUpdatedAt = "updated_at"
)

// State is the latest progress of a campaign run.
type State struct {
	CampaignID string        `json:"campaign_id"`
	Current    int           `json:"current"`
	Total      int           `json:"total"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Message    string        `json:"message"`
	Kind       dispatch.Kind `json:"kind,omitempty"`
	Status     string        `json:"status,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Snapshots stores the live progress of campaigns as hashes in a kv.Store.
type Snapshots struct {
	store kv.Store
	ttl   time.Duration
	now   func() time.Time
}

// SnapshotsOptions configures Snapshots.
type SnapshotsOptions struct {
	TTL time.Duration
	Now func() time.Time
}

// NewSnapshots creates Snapshots on store.
func NewSnapshots(store kv.Store, options *SnapshotsOptions) *Snapshots {
	s := &Snapshots{store: store, ttl: DefaultSnapshotTTL, now: time.Now}
	if options == nil {
		return s
	}
	if options.TTL > 0 {
		s.ttl = options.TTL
	}
	if options.Now != nil {
		s.now = options.Now
	}
	return s
}

func key(campaignID string) string {
	return keyPrefix + campaignID
}

// Start writes the initial snapshot of a run over total recipients.
func (s *Snapshots) Start(ctx context.Context, campaignID string, total int) error {
	return s.write(ctx, campaignID, map[string]string{
		fieldCurrent: "0",
		fieldTotal:   strconv.Itoa(total),
		fieldSent:    "0",
		fieldFailed:  "0",
		fieldMessage: "Starting",
		fieldStatus:  "sending",
	})
}

// Track returns a ProgressFunc that records every event of the run.
// Write errors are logged and do not interrupt the run.
func (s *Snapshots) Track(ctx context.Context, campaignID string) dispatch.ProgressFunc {
	var sent, failed int

	return func(e dispatch.Event) {
		switch e.Kind {
		case dispatch.KindSent:
			sent++
		case dispatch.KindFailed:
			failed++
		}

		err := s.write(ctx, campaignID, map[string]string{
			fieldCurrent: strconv.Itoa(e.Current),
			fieldTotal:   strconv.Itoa(e.Total),
			fieldSent:    strconv.Itoa(sent),
			fieldFailed:  strconv.Itoa(failed),
			fieldMessage: e.Message,
			fieldKind:    string(e.Kind),
		})
		if err != nil {
			logger.FromContextWithErr(ctx, err).WarnContext(ctx, "failed to store progress snapshot",
				"campaign_id", campaignID)
		}
	}
}

// Finish records the final status of the run.
func (s *Snapshots) Finish(ctx context.Context, campaignID, status string) error {
	return s.write(ctx, campaignID, map[string]string{fieldStatus: status})
}

// Get returns the latest snapshot of the campaign.
func (s *Snapshots) Get(ctx context.Context, campaignID string) (State, error) {
	ctx, span := tracer.Start(ctx, "Snapshots.Get")
	defer span.End()

	values, err := s.store.HGetAll(ctx, key(campaignID))
	if err != nil {
		span.RecordError(err)
		return State{}, errors.Wrapf(err, "failed to read progress of %s", campaignID)
	}
	if len(values) == 0 {
		return State{}, errors.Wrapf(ErrNoSnapshot, "campaign %s", campaignID)
	}

	state := State{
		CampaignID: campaignID,
		Current:    atoi(values[fieldCurrent]),
		Total:      atoi(values[fieldTotal]),
		Sent:       atoi(values[fieldSent]),
		Failed:     atoi(values[fieldFailed]),
		Message:    values[fieldMessage],
		Kind:       dispatch.Kind(values[fieldKind]),
		Status:     values[fieldStatus],
	}
	if ts, err := time.Parse(time.RFC3339Nano, values[fieldUpdatedAt]); err == nil {
		state.UpdatedAt = ts
	}
	return state, nil
}

func (s *Snapshots) write(ctx context.Context, campaignID string, values map[string]string) error {
	ctx, span := tracer.Start(ctx, "Snapshots.write")
	defer span.End()

	values[fieldUpdatedAt] = s.now().UTC().Format(time.RFC3339Nano)

	k := key(campaignID)
	if err := s.store.HSet(ctx, k, values); err != nil {
		span.RecordError(err)
		return errors.Wrapf(err, "failed to write progress of %s", campaignID)
	}
	if err := s.store.Expire(ctx, k, s.ttl); err != nil {
		span.RecordError(err)
		return errors.Wrapf(err, "failed to set progress ttl of %s", campaignID)
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
