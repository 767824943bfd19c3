// Package reminder turns "N days before expiration" rules into scheduled
// sends. It is a producer: rows it creates are drained by the dispatch tick
// like any other, carrying origin "reminder" and the client's id.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
)

// DefaultSchedule runs the producer shortly after midnight.
const DefaultSchedule = "5 0 * * *"

type Producer struct {
	Rules   repository.ReminderRuleRepositoryInterface
	Clients repository.ClientRepositoryInterface
	Sends   repository.ScheduledSendRepositoryInterface
	Loc     *time.Location
	Now     func() time.Time
	Log     zerolog.Logger
}

func New(rules repository.ReminderRuleRepositoryInterface, clients repository.ClientRepositoryInterface,
	sends repository.ScheduledSendRepositoryInterface, loc *time.Location, log zerolog.Logger) *Producer {
	if loc == nil {
		loc = time.Local
	}
	return &Producer{
		Rules:   rules,
		Clients: clients,
		Sends:   sends,
		Loc:     loc,
		Now:     time.Now,
		Log:     log.With().Str("component", "reminder").Logger(),
	}
}

// Report summarizes one run.
type Report struct {
	Rules     int
	Created   int
	Duplicate int
	Skipped   int
}

// Run enqueues today's reminders. Running it twice on the same day creates
// nothing new: each (rule, client, expiration day) maps to one dedup key.
func (p *Producer) Run(ctx context.Context) (Report, error) {
	var rep Report
	rules, err := p.Rules.ListEnabled(ctx)
	if err != nil {
		return rep, fmt.Errorf("list reminder rules: %w", err)
	}
	now := p.Now().In(p.Loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.Loc)

	for _, rule := range rules {
		rep.Rules++
		hour, minute, err := ParseClock(rule.SendAt)
		if err != nil {
			p.Log.Warn().Err(err).Str("rule", rule.ID).Msg("skipping reminder rule")
			continue
		}
		day := today.AddDate(0, 0, rule.DaysBefore)
		clients, err := p.Clients.ListExpiringBetween(ctx, rule.OwnerID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return rep, fmt.Errorf("clients expiring for rule %s: %w", rule.ID, err)
		}
		sendAt := today.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)

		for _, c := range clients {
			if strings.TrimSpace(c.Phone) == "" {
				rep.Skipped++
				continue
			}
			created, err := p.Sends.Create(ctx, reminderSend(rule, c, day, sendAt))
			if err != nil {
				return rep, fmt.Errorf("enqueue reminder for client %s: %w", c.ID, err)
			}
			if created {
				rep.Created++
			} else {
				rep.Duplicate++
			}
		}
	}

	p.Log.Info().Int("rules", rep.Rules).Int("created", rep.Created).Int("duplicate", rep.Duplicate).
		Int("skipped", rep.Skipped).Msg("reminders enqueued")
	return rep, nil
}

func reminderSend(rule *model.ReminderRule, c *model.Client, day, sendAt time.Time) *model.ScheduledSend {
	clientID := c.ID
	key := DedupKey(rule.ID, c.ID, day)
	return &model.ScheduledSend{
		OwnerID:      rule.OwnerID,
		Target:       model.DispatchTarget{Address: c.Phone, Name: c.Name},
		PayloadKind:  model.PayloadText,
		TemplateBody: rule.Template,
		Schedule:     model.Schedule{ScheduledAt: sendAt.UTC()},
		Status:       model.SendPending,
		Origin:       model.OriginReminder,
		ClientID:     &clientID,
		DedupKey:     &key,
	}
}

func DedupKey(ruleID, clientID string, expiresOn time.Time) string {
	return "reminder:" + ruleID + ":" + clientID + ":" + expiresOn.Format(time.DateOnly)
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("send time %q: want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Scheduler is anything that can run a function on a cron spec.
type Scheduler interface {
	AddFunc(spec string, fn func()) error
}

// Schedule registers Run on s. Errors are logged; the next run retries.
func (p *Producer) Schedule(ctx context.Context, s Scheduler, spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	if err := s.AddFunc(spec, func() {
		if _, err := p.Run(ctx); err != nil {
			p.Log.Error().Err(err).Msg("reminder run failed")
		}
	}); err != nil {
		return fmt.Errorf("reminder schedule %q: %w", spec, err)
	}
	return nil
}
