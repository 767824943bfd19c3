// Package memstore is an in-memory datastore with the same selection, lease
// and compare-and-set rules as the Postgres repositories. It backs the
// "memory" driver and the tests of the packages above it.
package memstore

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

type sendRow struct {
	model.ScheduledSend
	claimedUntil time.Time
}

type postRow struct {
	model.StatusPost
	claimedUntil time.Time
}

// Store holds every table behind one mutex. The typed views returned by
// its accessors implement the repository interfaces.
type Store struct {
	mu sync.Mutex

	sends     map[string]*sendRow
	dedup     map[string]string
	posts     map[string]*postRow
	campaigns map[string]*model.Campaign
	contacts  map[string][]*model.CampaignContact
	nextPos   int
	// contact id -> claimed_until
	contactClaims map[string]time.Time

	clients   map[string]*model.Client
	instances map[string]*model.ChannelInstance
	settings  map[string]model.ChannelSettings
	rules     map[string]*model.ReminderRule

	history       []*model.DispatchHistoryRecord
	notifications []*model.ClientNotificationLog
}

func New() *Store {
	return &Store{
		sends:         make(map[string]*sendRow),
		dedup:         make(map[string]string),
		posts:         make(map[string]*postRow),
		campaigns:     make(map[string]*model.Campaign),
		contacts:      make(map[string][]*model.CampaignContact),
		contactClaims: make(map[string]time.Time),
		clients:       make(map[string]*model.Client),
		instances:     make(map[string]*model.ChannelInstance),
		settings:      make(map[string]model.ChannelSettings),
		rules:         make(map[string]*model.ReminderRule),
	}
}

func (s *Store) ScheduledSends() *ScheduledSends { return &ScheduledSends{s: s} }
func (s *Store) StatusPosts() *StatusPosts       { return &StatusPosts{s: s} }
func (s *Store) Campaigns() *Campaigns           { return &Campaigns{s: s} }
func (s *Store) Clients() *Clients               { return &Clients{s: s} }
func (s *Store) Channels() *Channels             { return &Channels{s: s} }
func (s *Store) ReminderRules() *ReminderRules   { return &ReminderRules{s: s} }
func (s *Store) History() *History               { return &History{s: s} }

func cloneSchedule(sc model.Schedule) model.Schedule {
	sc.RecurrenceDays = slices.Clone(sc.RecurrenceDays)
	return sc
}

func cloneSend(in model.ScheduledSend) *model.ScheduledSend {
	in.Schedule = cloneSchedule(in.Schedule)
	return &in
}

func clonePost(in model.StatusPost) *model.StatusPost {
	in.Schedule = cloneSchedule(in.Schedule)
	in.Targets = slices.Clone(in.Targets)
	return &in
}

func cloneCampaign(in *model.Campaign) *model.Campaign {
	c := *in
	return &c
}

func cloneContact(in *model.CampaignContact) *model.CampaignContact {
	c := *in
	c.Variables = maps.Clone(in.Variables)
	return &c
}

func cloneClient(in *model.Client) *model.Client {
	c := *in
	c.Custom = maps.Clone(in.Custom)
	return &c
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
