package types

import "sort"

// UnknownDay is the rollup bucket for events without a usable timestamp.
const UnknownDay = "unknown"

// UsageEvent is one usage-bearing message record read from a session log.
type UsageEvent struct {
	Timestamp   string  `json:"timestamp"` // empty when the record has none
	Model       string  `json:"model"`
	Provider    string  `json:"provider"`
	Input       int64   `json:"input"`
	Output      int64   `json:"output"`
	CacheRead   int64   `json:"cacheRead"`
	CacheWrite  int64   `json:"cacheWrite"`
	TotalTokens int64   `json:"totalTokens"`
	CostTotal   float64 `json:"costTotal"`
	SessionFile string  `json:"sessionFile"`
}

// DayTotals holds the aggregated metrics for one day.
type DayTotals struct {
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`
	Events int     `json:"events"`
}

// DailyRollup maps a day key (YYYY-MM-DD or UnknownDay) to its totals.
type DailyRollup map[string]DayTotals

// Days returns the rollup keys in ascending order.
func (r DailyRollup) Days() []string {
	days := make([]string, 0, len(r))
	for day := range r {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}

// MaxTokens returns the largest per-day token count, 0 for an empty rollup.
func (r DailyRollup) MaxTokens() int64 {
	var max int64
	for _, t := range r {
		if t.Tokens > max {
			max = t.Tokens
		}
	}
	return max
}

// MaxCost returns the largest per-day cost, 0 for an empty rollup.
func (r DailyRollup) MaxCost() float64 {
	var max float64
	for _, t := range r {
		if t.Cost > max {
			max = t.Cost
		}
	}
	return max
}

// Rollup is the document written to usage_rollups.json.
type Rollup struct {
	GeneratedAt string      `json:"generatedAt"`
	EventCount  int         `json:"eventCount"`
	Daily       DailyRollup `json:"daily"`
}
