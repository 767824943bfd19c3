package memstore

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
)

type Campaigns struct{ s *Store }

var _ repository.CampaignRepositoryInterface = (*Campaigns)(nil)

func (r *Campaigns) Create(_ context.Context, c *model.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	r.s.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (r *Campaigns) GetByID(_ context.Context, ownerID, id string) (*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[id]
	if !ok || c.OwnerID != ownerID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return cloneCampaign(c), nil
}

func (r *Campaigns) ListCampaigns(_ context.Context, ownerID string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Campaign
	for _, c := range r.s.campaigns {
		if c.OwnerID != ownerID || (status != "" && string(c.Status) != status) {
			continue
		}
		out = append(out, cloneCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, offset, limit), len(out), nil
}

func (r *Campaigns) Delete(_ context.Context, ownerID, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[id]
	if !ok || c.OwnerID != ownerID {
		return false, nil
	}
	for _, ct := range r.s.contacts[id] {
		delete(r.s.contactClaims, ct.ID)
	}
	delete(r.s.campaigns, id)
	delete(r.s.contacts, id)
	return true, nil
}

func (r *Campaigns) SetStatus(_ context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[id]
	if !ok || !slices.Contains(from, c.Status) {
		return false, nil
	}
	c.Status = to
	switch to {
	case model.CampaignRunning:
		if c.StartedAt == nil {
			c.StartedAt = &at
		}
		c.ProcessedSinceResume = 0
	case model.CampaignCompleted:
		c.CompletedAt = &at
	}
	c.UpdatedAt = &at
	return true, nil
}

func (r *Campaigns) AddContacts(_ context.Context, campaignID string, contacts []*model.CampaignContact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	now := time.Now()
	for _, ct := range contacts {
		if ct.ID == "" {
			ct.ID = uuid.NewString()
		}
		r.s.nextPos++
		ct.CampaignID = campaignID
		ct.Status = model.ContactPending
		ct.Position = r.s.nextPos
		ct.CreatedAt = now
		r.s.contacts[campaignID] = append(r.s.contacts[campaignID], cloneContact(ct))
	}
	c.TotalContacts += len(contacts)
	c.UpdatedAt = &now
	return nil
}

func (r *Campaigns) GetCampaignStats(_ context.Context, campaignID string) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stats := map[string]int{"pending": 0, "sent": 0, "failed": 0}
	for _, ct := range r.s.contacts[campaignID] {
		stats[string(ct.Status)]++
	}
	return stats, nil
}

func (r *Campaigns) hasPending(campaignID string) bool {
	for _, ct := range r.s.contacts[campaignID] {
		if ct.Status == model.ContactPending {
			return true
		}
	}
	return false
}

func (r *Campaigns) SelectRunningCampaignsWithPendingContacts(_ context.Context) ([]*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Campaign
	for _, c := range r.s.campaigns {
		if c.Status != model.CampaignRunning {
			continue
		}
		if r.hasPending(c.ID) || c.Done() {
			out = append(out, cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.StartedAt != nil && b.StartedAt != nil && !a.StartedAt.Equal(*b.StartedAt) {
			return a.StartedAt.Before(*b.StartedAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}

func (r *Campaigns) ClaimPendingContacts(_ context.Context, campaignID string, now time.Time, limit int, lease time.Duration) ([]*model.CampaignContact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[campaignID]
	if !ok || c.Status != model.CampaignRunning {
		return nil, nil
	}
	var next []*model.CampaignContact
	for _, ct := range r.s.contacts[campaignID] {
		if ct.Status != model.ContactPending {
			continue
		}
		if until, held := r.s.contactClaims[ct.ID]; held && !until.Before(now) {
			return nil, nil
		}
		if limit <= 0 || len(next) < limit {
			next = append(next, ct)
		}
	}

	out := make([]*model.CampaignContact, 0, len(next))
	for _, ct := range next {
		r.s.contactClaims[ct.ID] = now.Add(lease)
		out = append(out, cloneContact(ct))
	}
	return out, nil
}

func (r *Campaigns) ReleaseContacts(_ context.Context, campaignID string, ids []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, ct := range r.s.contacts[campaignID] {
		if ct.Status == model.ContactPending && slices.Contains(ids, ct.ID) {
			delete(r.s.contactClaims, ct.ID)
		}
	}
	return nil
}

func (r *Campaigns) RecordContactOutcome(_ context.Context, out model.ContactOutcome) (*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var contact *model.CampaignContact
	for _, ct := range r.s.contacts[out.CampaignID] {
		if ct.ID == out.ContactID {
			contact = ct
			break
		}
	}
	if contact == nil || contact.Status != model.ContactPending {
		return nil, nil
	}
	c, ok := r.s.campaigns[out.CampaignID]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(out.CampaignID)
	}

	delete(r.s.contactClaims, contact.ID)
	contact.Status = out.Status
	contact.Error = out.Error
	if out.Status == model.ContactSent {
		at := out.At
		contact.SentAt = &at
		c.SentCount++
	} else {
		c.FailedCount++
	}
	c.ProcessedSinceResume++
	at := out.At
	c.UpdatedAt = &at
	return cloneCampaign(c), nil
}

func (r *Campaigns) CompleteIfDone(_ context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[id]
	if !ok || (c.Status != model.CampaignRunning && c.Status != model.CampaignPaused) || !c.Done() {
		return false, nil
	}
	c.Status = model.CampaignCompleted
	c.CompletedAt = &at
	c.UpdatedAt = &at
	return true, nil
}
