package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
)

type ScheduledSends struct{ s *Store }

var _ repository.ScheduledSendRepositoryInterface = (*ScheduledSends)(nil)

func (r *ScheduledSends) Create(_ context.Context, send *model.ScheduledSend) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if send.DedupKey != nil {
		if _, ok := r.s.dedup[*send.DedupKey]; ok {
			return false, nil
		}
	}
	if send.ID == "" {
		send.ID = uuid.NewString()
	}
	now := time.Now()
	send.CreatedAt, send.UpdatedAt = now, now
	if send.Status == "" {
		send.Status = model.SendPending
	}
	if send.Origin == "" {
		send.Origin = model.OriginManual
	}
	r.s.sends[send.ID] = &sendRow{ScheduledSend: *cloneSend(*send)}
	if send.DedupKey != nil {
		r.s.dedup[*send.DedupKey] = send.ID
	}
	return true, nil
}

func (r *ScheduledSends) GetByID(_ context.Context, ownerID, id string) (*model.ScheduledSend, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.sends[id]
	if !ok || row.OwnerID != ownerID {
		return nil, appErrors.NewScheduledSendNotFound(id)
	}
	return cloneSend(row.ScheduledSend), nil
}

func (r *ScheduledSends) List(_ context.Context, ownerID, status string, offset, limit int) ([]*model.ScheduledSend, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.ScheduledSend
	for _, row := range r.s.sends {
		if row.OwnerID != ownerID || (status != "" && string(row.Status) != status) {
			continue
		}
		out = append(out, cloneSend(row.ScheduledSend))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	return page(out, offset, limit), len(out), nil
}

func (r *ScheduledSends) Cancel(_ context.Context, ownerID, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.sends[id]
	if !ok || row.OwnerID != ownerID || row.Status != model.SendPending {
		return false, nil
	}
	row.Status = model.SendCancelled
	row.claimedUntil = time.Time{}
	row.UpdatedAt = time.Now()
	return true, nil
}

func (r *ScheduledSends) SelectDueScheduledSends(_ context.Context, now time.Time, limit int, lease time.Duration) ([]*model.ScheduledSend, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []*sendRow
	for _, row := range r.s.sends {
		if row.Status != model.SendPending || row.ScheduledAt.After(now) {
			continue
		}
		if !row.claimedUntil.IsZero() && !row.claimedUntil.Before(now) {
			continue
		}
		due = append(due, row)
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*model.ScheduledSend, 0, len(due))
	for _, row := range due {
		row.claimedUntil = now.Add(lease)
		out = append(out, cloneSend(row.ScheduledSend))
	}
	return out, nil
}

func (r *ScheduledSends) Claim(_ context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.sends[id]
	if !ok || row.Status != model.SendPending {
		return false, nil
	}
	if !row.claimedUntil.IsZero() && !row.claimedUntil.Before(now) {
		return false, nil
	}
	row.claimedUntil = now.Add(lease)
	return true, nil
}

func (r *ScheduledSends) Complete(_ context.Context, id string, expectedScheduledAt time.Time, out model.SendOutcome) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.sends[id]
	if !ok || row.Status != model.SendPending || !row.ScheduledAt.Equal(expectedScheduledAt) {
		return false, nil
	}
	row.Status = out.Status
	if out.NextAt != nil {
		row.ScheduledAt = *out.NextAt
	}
	if out.SentAt != nil {
		row.SentAt = out.SentAt
	}
	row.Error = out.Error
	row.claimedUntil = time.Time{}
	row.UpdatedAt = time.Now()
	return true, nil
}

func (r *ScheduledSends) Release(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if row, ok := r.s.sends[id]; ok && row.Status == model.SendPending {
		row.claimedUntil = time.Time{}
	}
	return nil
}
