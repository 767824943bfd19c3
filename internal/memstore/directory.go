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

type Clients struct{ s *Store }

var _ repository.ClientRepositoryInterface = (*Clients)(nil)

func (r *Clients) GetByID(_ context.Context, ownerID, id string) (*model.Client, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.clients[id]
	if !ok || c.OwnerID != ownerID {
		return nil, appErrors.NewNotFound("client", id)
	}
	return cloneClient(c), nil
}

func (r *Clients) ListExpiringBetween(_ context.Context, ownerID string, from, to time.Time) ([]*model.Client, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Client
	for _, c := range r.s.clients {
		if c.OwnerID != ownerID || c.ExpiresAt == nil {
			continue
		}
		if c.ExpiresAt.Before(from) || !c.ExpiresAt.Before(to) {
			continue
		}
		out = append(out, cloneClient(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (r *Clients) Upsert(_ context.Context, c *model.Client) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if existing, ok := r.s.clients[c.ID]; ok && existing.OwnerID != c.OwnerID {
		return nil
	}
	r.s.clients[c.ID] = cloneClient(c)
	return nil
}

type Channels struct{ s *Store }

var _ repository.ChannelRepositoryInterface = (*Channels)(nil)

func (r *Channels) ConnectedInstance(_ context.Context, ownerID string) (*model.ChannelInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var found *model.ChannelInstance
	for _, inst := range r.s.instances {
		if inst.OwnerID != ownerID || inst.Status != model.InstanceConnected {
			continue
		}
		if found == nil || inst.ID < found.ID {
			found = inst
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (r *Channels) Settings(_ context.Context, instanceID, ownerID string) (model.ChannelSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if s, ok := r.s.settings[instanceID]; ok {
		return s, nil
	}
	return model.DefaultChannelSettings(instanceID, ownerID), nil
}

func (r *Channels) SaveSettings(_ context.Context, s model.ChannelSettings) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.settings[s.InstanceID] = s
	return nil
}

func (r *Channels) SaveInstance(_ context.Context, inst *model.ChannelInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp := *inst
	r.s.instances[inst.ID] = &cp
	return nil
}

type ReminderRules struct{ s *Store }

var _ repository.ReminderRuleRepositoryInterface = (*ReminderRules)(nil)

func (r *ReminderRules) Create(_ context.Context, rule *model.ReminderRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	cp := *rule
	r.s.rules[rule.ID] = &cp
	return nil
}

func (r *ReminderRules) ListEnabled(_ context.Context) ([]*model.ReminderRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.ReminderRule
	for _, rule := range r.s.rules {
		if rule.Enabled {
			cp := *rule
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerID != out[j].OwnerID {
			return out[i].OwnerID < out[j].OwnerID
		}
		return out[i].DaysBefore > out[j].DaysBefore
	})
	return out, nil
}

type History struct{ s *Store }

var _ repository.HistoryRepositoryInterface = (*History)(nil)

func (r *History) AppendDispatch(_ context.Context, rec *model.DispatchHistoryRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	cp := *rec
	r.s.history = append(r.s.history, &cp)
	return nil
}

func (r *History) AppendClientNotification(_ context.Context, log *model.ClientNotificationLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	cp := *log
	r.s.notifications = append(r.s.notifications, &cp)
	return nil
}

// ListDispatch returns the owner's records, newest first.
func (r *History) ListDispatch(_ context.Context, ownerID string, offset, limit int) ([]*model.DispatchHistoryRecord, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.DispatchHistoryRecord
	for i := len(r.s.history) - 1; i >= 0; i-- {
		if rec := r.s.history[i]; rec.OwnerID == ownerID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return page(out, offset, limit), len(out), nil
}

// Notifications returns every client notification log in append order.
func (r *History) Notifications() []model.ClientNotificationLog {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]model.ClientNotificationLog, 0, len(r.s.notifications))
	for _, l := range r.s.notifications {
		out = append(out, *l)
	}
	return out
}

// Records returns every dispatch history record in append order.
func (r *History) Records() []model.DispatchHistoryRecord {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]model.DispatchHistoryRecord, 0, len(r.s.history))
	for _, rec := range r.s.history {
		out = append(out, *rec)
	}
	return out
}
