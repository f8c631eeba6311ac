// Package memory is an in-process campaign.Store for dry runs and tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/campaign"
)

var _ campaign.Store = (*Store)(nil)

// Store keeps campaigns and logs in maps.
type Store struct {
	mx        sync.RWMutex
	campaigns map[string]campaign.Campaign
	order     []string
	logs      map[string][]campaign.EmailLog
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		campaigns: make(map[string]campaign.Campaign),
		logs:      make(map[string][]campaign.EmailLog),
	}
}

func (s *Store) CreateCampaign(_ context.Context, c campaign.Campaign) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if _, ok := s.campaigns[c.ID]; ok {
		return errors.Wrapf(campaign.ErrAlreadyExists, "id %s", c.ID)
	}
	s.campaigns[c.ID] = c
	s.order = append(s.order, c.ID)
	return nil
}

func (s *Store) FinishCampaign(_ context.Context, c campaign.Campaign) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	stored, ok := s.campaigns[c.ID]
	if !ok {
		return errors.Wrapf(campaign.ErrNotFound, "id %s", c.ID)
	}
	stored.Status = c.Status
	stored.SentCount = c.SentCount
	stored.FailedCount = c.FailedCount
	stored.Error = c.Error
	stored.CompletedAt = c.CompletedAt
	s.campaigns[c.ID] = stored
	return nil
}

func (s *Store) AddLogs(_ context.Context, logs []campaign.EmailLog) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	for _, l := range logs {
		l.RecipientData = l.RecipientData.Clone()
		s.logs[l.CampaignID] = append(s.logs[l.CampaignID], l)
	}
	return nil
}

func (s *Store) GetCampaign(_ context.Context, id string) (campaign.Campaign, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	c, ok := s.campaigns[id]
	if !ok {
		return campaign.Campaign{}, errors.Wrapf(campaign.ErrNotFound, "id %s", id)
	}
	return c, nil
}

func (s *Store) ListCampaigns(_ context.Context, opts campaign.ListOptions) ([]campaign.Campaign, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	out := make([]campaign.Campaign, 0, len(s.order))
	for _, id := range slices.Backward(s.order) {
		out = append(out, s.campaigns[id])
	}

	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Offset >= len(out) {
		return []campaign.Campaign{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) ListLogs(_ context.Context, campaignID string, status campaign.LogStatus) ([]campaign.EmailLog, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	out := make([]campaign.EmailLog, 0, len(s.logs[campaignID]))
	for _, l := range s.logs[campaignID] {
		if status == "" || l.Status == status {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) Stats(context.Context) (campaign.Stats, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	st := campaign.Stats{Campaigns: len(s.campaigns)}
	for _, c := range s.campaigns {
		st.Sent += c.SentCount
		st.Failed += c.FailedCount
	}
	return st, nil
}
