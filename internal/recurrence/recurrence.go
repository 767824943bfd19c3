// Package recurrence computes the next occurrence of a repeating send.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	None   Kind = "none"
	Daily  Kind = "daily"
	Weekly Kind = "weekly"
)

// ErrNoRecurrence is returned by Next for a rule that does not repeat.
// Callers are expected to terminate the series instead of asking.
var ErrNoRecurrence = errors.New("recurrence: rule does not repeat")

// Rule is a recurrence kind plus, for weekly rules, the weekdays it fires on
// (0=Sunday..6=Saturday).
type Rule struct {
	Kind Kind
	Days []time.Weekday
}

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", None:
		return None, nil
	case Daily:
		return Daily, nil
	case Weekly:
		return Weekly, nil
	}
	return None, fmt.Errorf("unknown recurrence %q (use none, daily or weekly)", s)
}

// Repeats reports whether the rule produces further occurrences.
func (r Rule) Repeats() bool {
	return r.Kind == Daily || r.Kind == Weekly
}

func (r Rule) Validate() error {
	switch r.Kind {
	case None, Daily:
		return nil
	case Weekly:
		for _, d := range r.Days {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("weekday %d out of range 0..6", d)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown recurrence %q", r.Kind)
}

// Next returns the occurrence following current. Time-of-day is preserved
// in current's location.
func Next(current time.Time, rule Rule) (time.Time, error) {
	switch rule.Kind {
	case Daily:
		return current.AddDate(0, 0, 1), nil
	case Weekly:
		days := normalize(rule.Days)
		if len(days) == 0 {
			// empty weekly set degrades to daily
			return current.AddDate(0, 0, 1), nil
		}
		wd := current.Weekday()
		for _, d := range days {
			if d > wd {
				return current.AddDate(0, 0, int(d-wd)), nil
			}
		}
		return current.AddDate(0, 0, 7-int(wd)+int(days[0])), nil
	case None, "":
		return time.Time{}, ErrNoRecurrence
	}
	return time.Time{}, fmt.Errorf("recurrence: unknown kind %q", rule.Kind)
}

// normalize drops out-of-range and duplicate weekdays and sorts the rest.
func normalize(days []time.Weekday) []time.Weekday {
	seen := [7]bool{}
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseDays parses a comma separated list of weekday ordinals such as "1,3,5".
func ParseDays(s string) ([]time.Weekday, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid weekday %q (use 0=Sunday..6=Saturday)", part)
		}
		out = append(out, time.Weekday(n))
	}
	return normalize(out), nil
}

func FormatDays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range normalize(days) {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}
