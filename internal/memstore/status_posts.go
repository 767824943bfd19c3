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

type StatusPosts struct{ s *Store }

var _ repository.StatusPostRepositoryInterface = (*StatusPosts)(nil)

func (r *StatusPosts) Create(_ context.Context, p *model.StatusPost) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = model.SendPending
	}
	r.s.posts[p.ID] = &postRow{StatusPost: *clonePost(*p)}
	return nil
}

func (r *StatusPosts) GetByID(_ context.Context, ownerID, id string) (*model.StatusPost, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.posts[id]
	if !ok || row.OwnerID != ownerID {
		return nil, appErrors.NewNotFound("status post", id)
	}
	return clonePost(row.StatusPost), nil
}

func (r *StatusPosts) Cancel(_ context.Context, ownerID, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.posts[id]
	if !ok || row.OwnerID != ownerID || row.Status != model.SendPending {
		return false, nil
	}
	row.Status = model.SendCancelled
	row.claimedUntil = time.Time{}
	row.UpdatedAt = time.Now()
	return true, nil
}

func (r *StatusPosts) SelectDueStatusPosts(_ context.Context, now time.Time, limit int, lease time.Duration) ([]*model.StatusPost, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []*postRow
	for _, row := range r.s.posts {
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

	out := make([]*model.StatusPost, 0, len(due))
	for _, row := range due {
		row.claimedUntil = now.Add(lease)
		out = append(out, clonePost(row.StatusPost))
	}
	return out, nil
}

func (r *StatusPosts) Complete(_ context.Context, id string, expectedScheduledAt time.Time, out model.SendOutcome) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.posts[id]
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

func (r *StatusPosts) Release(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if row, ok := r.s.posts[id]; ok && row.Status == model.SendPending {
		row.claimedUntil = time.Time{}
	}
	return nil
}
