// internal/model/schedule.go
package model

import (
	"time"

	"github.com/unclebandit/dispatch-engine/internal/recurrence"
)

// Schedule is the timing shape shared by every recurring queue row.
type Schedule struct {
	ScheduledAt    time.Time       `db:"scheduled_at" json:"scheduled_at"`
	Recurrence     recurrence.Kind `db:"recurrence" json:"recurrence"`
	RecurrenceDays []time.Weekday  `db:"recurrence_days" json:"recurrence_days,omitempty"`
	RecurrenceEnd  *time.Time      `db:"recurrence_end" json:"recurrence_end,omitempty"`
}

func (s Schedule) Rule() recurrence.Rule {
	return recurrence.Rule{Kind: s.Recurrence, Days: s.RecurrenceDays}
}

// Advance returns the next occurrence after ScheduledAt, or false when the
// series is over: no recurrence, or the next occurrence falls after
// RecurrenceEnd. An occurrence exactly at RecurrenceEnd still fires.
func (s Schedule) Advance() (time.Time, bool) {
	rule := s.Rule()
	if !rule.Repeats() {
		return time.Time{}, false
	}
	next, err := recurrence.Next(s.ScheduledAt, rule)
	if err != nil {
		return time.Time{}, false
	}
	if s.RecurrenceEnd != nil && next.After(*s.RecurrenceEnd) {
		return time.Time{}, false
	}
	return next, true
}
