package domain

import (
	"fmt"
	"sort"
	"time"
)

const clockLayout = "15:04"

// ParseClock validates a 24h "HH:MM" time-of-day string.
func ParseClock(value string) (time.Time, error) {
	t, err := time.Parse(clockLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q: %w", value, err)
	}
	return t, nil
}

// NormalizeSchedule deduplicates and sorts a dose schedule ascending.
// Invalid entries are kept in place so rules can report them; callers that
// need validation use ParseClock per entry.
func NormalizeSchedule(schedule []string) []string {
	if len(schedule) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(schedule))
	out := make([]string, 0, len(schedule))
	for _, entry := range schedule {
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	sort.Strings(out)
	return out
}

// DueAt reports whether the medication has a dose due at the given instant:
// at least one scheduled time-of-day is at or before the instant's local
// time-of-day, and the medication has not been marked taken on that
// calendar day. Invalid schedule entries never trigger a dose.
func (m Medication) DueAt(now time.Time) bool {
	if len(m.Schedule) == 0 {
		return false
	}
	if m.TakenOn(now) {
		return false
	}
	minutes := now.Hour()*60 + now.Minute()
	for _, entry := range m.Schedule {
		t, err := ParseClock(entry)
		if err != nil {
			continue
		}
		if t.Hour()*60+t.Minute() <= minutes {
			return true
		}
	}
	return false
}
