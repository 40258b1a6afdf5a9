package calculator

import (
	"sort"
	"time"

	"github.com/sdpower/clawtools/internal/types"
)

const dayLayout = "2006-01-02"

// DayKey returns the YYYY-MM-DD prefix of an ISO-8601 timestamp, or
// types.UnknownDay when the timestamp is absent, too short or not a date.
func DayKey(timestamp string) string {
	if len(timestamp) < len(dayLayout) {
		return types.UnknownDay
	}
	day := timestamp[:len(dayLayout)]
	if _, err := time.Parse(dayLayout, day); err != nil {
		return types.UnknownDay
	}
	return day
}

// SortEvents orders events by timestamp string. Events without a timestamp
// sort first; ties keep their load order.
func SortEvents(events []types.UsageEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
}

// AggregateDaily folds events into per-day totals.
func AggregateDaily(events []types.UsageEvent) types.DailyRollup {
	rollup := make(types.DailyRollup)
	for _, event := range events {
		day := DayKey(event.Timestamp)
		totals := rollup[day]
		totals.Tokens += event.TotalTokens
		totals.Cost += event.CostTotal
		totals.Events++
		rollup[day] = totals
	}
	return rollup
}

// BuildRollup wraps the daily totals with generation metadata.
func BuildRollup(events []types.UsageEvent, now time.Time) types.Rollup {
	return types.Rollup{
		GeneratedAt: FormatGeneratedAt(now),
		EventCount:  len(events),
		Daily:       AggregateDaily(events),
	}
}

// FormatGeneratedAt renders t in UTC with microseconds and a Z suffix.
func FormatGeneratedAt(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// FilterByDay keeps events whose day falls inside the inclusive
// [since, until] range (YYYY-MM-DD, either may be empty). Events without a
// day are dropped whenever a bound is set.
func FilterByDay(events []types.UsageEvent, since, until string) []types.UsageEvent {
	if since == "" && until == "" {
		return events
	}

	var filtered []types.UsageEvent
	for _, event := range events {
		day := DayKey(event.Timestamp)
		if day == types.UnknownDay {
			continue
		}
		if since != "" && day < since {
			continue
		}
		if until != "" && day > until {
			continue
		}
		filtered = append(filtered, event)
	}
	return filtered
}

// ModelsByDay returns the distinct models seen on each day, sorted.
func ModelsByDay(events []types.UsageEvent) map[string][]string {
	seen := make(map[string]map[string]bool)
	for _, event := range events {
		day := DayKey(event.Timestamp)
		if seen[day] == nil {
			seen[day] = make(map[string]bool)
		}
		seen[day][event.Model] = true
	}

	models := make(map[string][]string, len(seen))
	for day, set := range seen {
		list := make([]string, 0, len(set))
		for model := range set {
			list = append(list, model)
		}
		sort.Strings(list)
		models[day] = list
	}
	return models
}

// ValidateDay checks a YYYY-MM-DD filter bound.
func ValidateDay(day string) error {
	if day == "" {
		return nil
	}
	if _, err := time.Parse(dayLayout, day); err != nil {
		return types.ValidationError{Field: "date", Message: "use YYYY-MM-DD: " + err.Error()}
	}
	return nil
}
