// Package campaign runs bulk sends as recorded campaigns: it creates the campaign
// record, dispatches the emails and stores the per-recipient outcome.
package campaign

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/recipient"
)

// Status is the lifecycle state of a campaign.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSending   Status = "sending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// LogStatus is the outcome of one recipient.
type LogStatus string

const (
	LogSent   LogStatus = "sent"
	LogFailed LogStatus = "failed"
)

var (
	// ErrNotFound is returned for an unknown campaign.
	ErrNotFound = errors.New("campaign not found")
	// ErrAlreadyExists is returned when a campaign ID is reused.
	ErrAlreadyExists = errors.New("campaign already exists")
	// ErrRunInProgress is returned when another run holds the dispatch lock.
	ErrRunInProgress = errors.New("another campaign run is in progress")
	// ErrInvalidRequest marks a request that cannot be run.
	ErrInvalidRequest = errors.New("invalid campaign request")
)

// Campaign is the record of one bulk send.
type Campaign struct {
	ID              string     `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Subject         string     `json:"subject" db:"subject"`
	TemplateID      string     `json:"template_id,omitempty" db:"template_id"`
	RecipientsCount int        `json:"recipients_count" db:"recipients_count"`
	Status          Status     `json:"status" db:"status"`
	SentCount       int        `json:"sent_count" db:"sent_count"`
	FailedCount     int        `json:"failed_count" db:"failed_count"`
	Error           string     `json:"error,omitempty" db:"error"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// EmailLog is the outcome for one recipient of a campaign.
type EmailLog struct {
	CampaignID     string              `json:"campaign_id"`
	RecipientEmail string              `json:"recipient_email"`
	RecipientData  recipient.Recipient `json:"recipient_data"`
	Status         LogStatus           `json:"status"`
	ErrorMessage   string              `json:"error_message,omitempty"`
	SentAt         time.Time           `json:"sent_at"`
}

// Stats summarizes all campaigns.
type Stats struct {
	Campaigns int `json:"campaigns"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// ListOptions pages campaign lists, newest first.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store persists campaigns and their logs.
type Store interface {
	CreateCampaign(ctx context.Context, c Campaign) error
	// FinishCampaign stores the final status and counts.
	FinishCampaign(ctx context.Context, c Campaign) error
	AddLogs(ctx context.Context, logs []EmailLog) error

	GetCampaign(ctx context.Context, id string) (Campaign, error)
	ListCampaigns(ctx context.Context, opts ListOptions) ([]Campaign, error)
	// ListLogs returns the logs of a campaign in recipient order.
	// An empty status returns every log.
	ListLogs(ctx context.Context, campaignID string, status LogStatus) ([]EmailLog, error)
	Stats(ctx context.Context) (Stats, error)
}
