package recurrence

import (
	"errors"
	"testing"
	"time"
)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestNext(t *testing.T) {
	t.Parallel()
	monWed := []time.Weekday{time.Monday, time.Wednesday}
	tests := []struct {
		name    string
		current time.Time
		rule    Rule
		want    time.Time
	}{
		// 2024-01-01 is a Monday.
		{name: "daily", current: at(2024, 1, 1, 9, 0), rule: Rule{Kind: Daily}, want: at(2024, 1, 2, 9, 0)},
		{name: "daily month rollover", current: at(2024, 1, 31, 23, 30), rule: Rule{Kind: Daily}, want: at(2024, 2, 1, 23, 30)},
		{name: "weekly same week", current: at(2024, 1, 1, 9, 0), rule: Rule{Kind: Weekly, Days: monWed}, want: at(2024, 1, 3, 9, 0)},
		{name: "weekly wraparound", current: at(2024, 1, 3, 9, 0), rule: Rule{Kind: Weekly, Days: monWed}, want: at(2024, 1, 8, 9, 0)},
		{name: "weekly unsorted days", current: at(2024, 1, 1, 9, 0), rule: Rule{Kind: Weekly, Days: []time.Weekday{time.Friday, time.Wednesday}}, want: at(2024, 1, 3, 9, 0)},
		{name: "weekly single day", current: at(2024, 1, 1, 9, 0), rule: Rule{Kind: Weekly, Days: []time.Weekday{time.Monday}}, want: at(2024, 1, 8, 9, 0)},
		{name: "weekly from saturday", current: at(2024, 1, 6, 18, 15), rule: Rule{Kind: Weekly, Days: []time.Weekday{time.Sunday}}, want: at(2024, 1, 7, 18, 15)},
		{name: "weekly empty degrades to daily", current: at(2024, 1, 1, 9, 0), rule: Rule{Kind: Weekly}, want: at(2024, 1, 2, 9, 0)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Next(tt.current, tt.rule)
			if err != nil {
				t.Fatalf("Next error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Next(%s) = %s, want %s", tt.current, got, tt.want)
			}
		})
	}
}

func TestNextPreservesLocalTimeOfDay(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("BRT", -3*3600)
	cur := time.Date(2024, 3, 4, 9, 0, 0, 0, loc)
	got, err := Next(cur, Rule{Kind: Daily})
	if err != nil {
		t.Fatal(err)
	}
	if got.Hour() != 9 || got.Minute() != 0 || got.Location() != loc {
		t.Fatalf("time-of-day not preserved: %s", got)
	}
}

func TestNextNone(t *testing.T) {
	t.Parallel()
	_, err := Next(at(2024, 1, 1, 9, 0), Rule{Kind: None})
	if !errors.Is(err, ErrNoRecurrence) {
		t.Fatalf("expected ErrNoRecurrence, got %v", err)
	}
}

func TestParseDays(t *testing.T) {
	t.Parallel()
	days, err := ParseDays(" 5,1,3,1 ")
	if err != nil {
		t.Fatal(err)
	}
	if got := FormatDays(days); got != "1,3,5" {
		t.Fatalf("FormatDays = %q, want 1,3,5", got)
	}
	if _, err := ParseDays("1,9"); err == nil {
		t.Fatal("expected error for weekday 9")
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()
	if k, _ := ParseKind(""); k != None {
		t.Fatalf("empty kind = %q, want none", k)
	}
	if k, _ := ParseKind("Weekly"); k != Weekly {
		t.Fatalf("kind = %q, want weekly", k)
	}
	if _, err := ParseKind("monthly"); err == nil {
		t.Fatal("expected error for monthly")
	}
}
