// Package postgres stores campaigns and email logs in Postgres through pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/campaign"
	pgxdb "github.com/pure-golang/bulkmail/db/pg/pgx"
	"github.com/pure-golang/bulkmail/recipient"
)

//go:embed schema.sql
var schema string

var _ campaign.Store = (*Store)(nil)

// DB is the part of pgxpool.Pool the Store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Store implements campaign.Store.
type Store struct {
	db DB
}

// NewStore creates a Store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply campaign schema")
	}
	return nil
}

const campaignColumns = `id, name, subject, template_id, recipients_count, status,
	sent_count, failed_count, error, created_at, completed_at`

func (s *Store) CreateCampaign(ctx context.Context, c campaign.Campaign) error {
	_, err := s.db.Exec(ctx, `INSERT INTO campaigns (`+campaignColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.Name, c.Subject, c.TemplateID, c.RecipientsCount, string(c.Status),
		c.SentCount, c.FailedCount, c.Error, c.CreatedAt, c.CompletedAt)
	if _, ok := pgxdb.ErrorIs(err, pgxdb.UniqueViolation); ok {
		return errors.Wrapf(campaign.ErrAlreadyExists, "id %s", c.ID)
	}
	return errors.Wrap(err, "failed to insert campaign")
}

func (s *Store) FinishCampaign(ctx context.Context, c campaign.Campaign) error {
	tag, err := s.db.Exec(ctx, `UPDATE campaigns
		SET status = $2, sent_count = $3, failed_count = $4, error = $5, completed_at = $6
		WHERE id = $1`,
		c.ID, string(c.Status), c.SentCount, c.FailedCount, c.Error, c.CompletedAt)
	if err != nil {
		return errors.Wrap(err, "failed to update campaign")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(campaign.ErrNotFound, "id %s", c.ID)
	}
	return nil
}

// AddLogs bulk-loads the logs with COPY.
func (s *Store) AddLogs(ctx context.Context, logs []campaign.EmailLog) error {
	if len(logs) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(logs))
	for _, l := range logs {
		data, err := json.Marshal(l.RecipientData)
		if err != nil {
			return errors.Wrapf(err, "failed to encode recipient %s", l.RecipientEmail)
		}
		rows = append(rows, []any{l.CampaignID, l.RecipientEmail, data, string(l.Status), l.ErrorMessage, l.SentAt})
	}

	_, err := s.db.CopyFrom(ctx, pgx.Identifier{"email_logs"},
		[]string{"campaign_id", "recipient_email", "recipient_data", "status", "error_message", "sent_at"},
		pgx.CopyFromRows(rows))
	return errors.Wrap(err, "failed to copy email logs")
}

func (s *Store) GetCampaign(ctx context.Context, id string) (campaign.Campaign, error) {
	rows, err := s.db.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return campaign.Campaign{}, errors.Wrap(err, "failed to query campaign")
	}
	c, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[campaign.Campaign])
	if pgxdb.IsNoRows(err) {
		return campaign.Campaign{}, errors.Wrapf(campaign.ErrNotFound, "id %s", id)
	}
	if err != nil {
		return campaign.Campaign{}, errors.Wrap(err, "failed to scan campaign")
	}
	return c, nil
}

func (s *Store) ListCampaigns(ctx context.Context, opts campaign.ListOptions) ([]campaign.Campaign, error) {
	var limit any
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	rows, err := s.db.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns
		ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, max(opts.Offset, 0))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query campaigns")
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByName[campaign.Campaign])
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan campaigns")
	}
	return list, nil
}

func (s *Store) ListLogs(ctx context.Context, campaignID string, status campaign.LogStatus) ([]campaign.EmailLog, error) {
	rows, err := s.db.Query(ctx, `SELECT campaign_id, recipient_email, recipient_data, status, error_message, sent_at
		FROM email_logs
		WHERE campaign_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY id`, campaignID, string(status))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query email logs")
	}

	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (campaign.EmailLog, error) {
		var (
			l      campaign.EmailLog
			data   []byte
			status string
			sentAt time.Time
		)
		if err := row.Scan(&l.CampaignID, &l.RecipientEmail, &data, &status, &l.ErrorMessage, &sentAt); err != nil {
			return l, err
		}
		l.Status = campaign.LogStatus(status)
		l.SentAt = sentAt
		l.RecipientData = recipient.Recipient{}
		if err := json.Unmarshal(data, &l.RecipientData); err != nil {
			return l, errors.Wrapf(err, "failed to decode recipient %s", l.RecipientEmail)
		}
		return l, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan email logs")
	}
	return logs, nil
}

func (s *Store) Stats(ctx context.Context) (campaign.Stats, error) {
	var st campaign.Stats
	err := s.db.QueryRow(ctx, `SELECT count(*), coalesce(sum(sent_count), 0), coalesce(sum(failed_count), 0)
		FROM campaigns`).Scan(&st.Campaigns, &st.Sent, &st.Failed)
	if err != nil {
		return campaign.Stats{}, errors.Wrap(err, "failed to query stats")
	}
	return st, nil
}
