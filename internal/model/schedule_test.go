package model

import (
	"testing"
	"time"

	"github.com/unclebandit/dispatch-engine/internal/recurrence"
)

func TestScheduleAdvance(t *testing.T) {
	t.Parallel()
	monday := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := monday.Add(d)
		return &v
	}
	week := 7 * 24 * time.Hour

	tests := []struct {
		name     string
		sched    Schedule
		wantNext time.Time
		wantOK   bool
	}{
		{"no recurrence", Schedule{ScheduledAt: monday}, time.Time{}, false},
		{"daily without end", Schedule{ScheduledAt: monday, Recurrence: recurrence.Daily}, monday.Add(24 * time.Hour), true},
		{"next lands on end", Schedule{ScheduledAt: monday, Recurrence: recurrence.Weekly,
			RecurrenceDays: []time.Weekday{time.Monday}, RecurrenceEnd: at(week)}, monday.Add(week), true},
		{"next one second past end", Schedule{ScheduledAt: monday, Recurrence: recurrence.Weekly,
			RecurrenceDays: []time.Weekday{time.Monday}, RecurrenceEnd: at(week - time.Second)}, time.Time{}, false},
		{"end far ahead", Schedule{ScheduledAt: monday, Recurrence: recurrence.Daily, RecurrenceEnd: at(week)},
			monday.Add(24 * time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next, ok := tt.sched.Advance()
			if ok != tt.wantOK || !next.Equal(tt.wantNext) {
				t.Errorf("Advance() = %v, %v; want %v, %v", next, ok, tt.wantNext, tt.wantOK)
			}
		})
	}
}
