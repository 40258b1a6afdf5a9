package output

import (
	"fmt"
	"strings"

	"github.com/sdpower/clawtools/internal/types"
)

const barRune = "█"

// FormatMarkdown renders USAGE_REPORT.md: header, daily token bars and daily
// cost bars, each day on its own line in ascending order.
func (f *Formatter) FormatMarkdown(rollup types.Rollup) string {
	days := rollup.Daily.Days()
	width := f.options.BarWidth

	var md strings.Builder
	md.WriteString("# OpenClaw Usage Report\n")
	md.WriteString("\n")
	fmt.Fprintf(&md, "- Generated: %s\n", rollup.GeneratedAt)
	fmt.Fprintf(&md, "- Events: %d\n", rollup.EventCount)
	md.WriteString("\n")

	md.WriteString("## Daily Tokens\n")
	maxTokens := float64(rollup.Daily.MaxTokens())
	for _, day := range days {
		tokens := rollup.Daily[day].Tokens
		bars := barLength(float64(tokens), maxTokens, width)
		fmt.Fprintf(&md, "- %s: %s | %s\n", day, formatNumber(tokens), strings.Repeat(barRune, bars))
	}
	md.WriteString("\n")

	md.WriteString("## Daily Cost (estimated from event usage cost.total)\n")
	maxCost := rollup.Daily.MaxCost()
	for _, day := range days {
		cost := rollup.Daily[day].Cost
		bars := barLength(cost, maxCost, width)
		fmt.Fprintf(&md, "- %s: $%.4f | %s\n", day, cost, strings.Repeat(barRune, bars))
	}

	return md.String()
}
