package output

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/sdpower/clawtools/internal/types"
)

const summaryBarWidth = 20

// TableWriterFormatter renders the terminal daily summary
type TableWriterFormatter struct {
	noColor bool

	title  lipgloss.Style
	border lipgloss.Style
	header lipgloss.Style
	total  lipgloss.Style

	barFrom colorful.Color
	barTo   colorful.Color
}

func NewTableWriterFormatter(noColor bool) *TableWriterFormatter {
	from, _ := colorful.Hex("#5fd7ff")
	to, _ := colorful.Hex("#ff5f87")
	return &TableWriterFormatter{
		noColor: noColor,
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 2),
		border:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		total:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		barFrom: from,
		barTo:   to,
	}
}

// FormatDailySummary renders one row per day with models, events, tokens,
// cost and a token share bar, plus a total footer.
func (f *TableWriterFormatter) FormatDailySummary(rollup types.Rollup, models map[string][]string) string {
	var output strings.Builder

	title := "OpenClaw Usage - Daily Summary"
	output.WriteString("\n")
	if f.noColor {
		output.WriteString(lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2).
			Render(title))
	} else {
		output.WriteString(f.title.Render(title))
	}
	output.WriteString("\n\n")

	days := rollup.Daily.Days()
	if len(days) == 0 {
		output.WriteString("No usage data found.\n")
		return output.String()
	}

	var buf bytes.Buffer
	table := tablewriter.NewTable(&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.On}},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{PerColumn: []tw.Align{
					tw.AlignLeft, tw.AlignLeft, tw.AlignRight, tw.AlignRight, tw.AlignRight, tw.AlignLeft,
				}},
			},
		}),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)

	table.Header([]string{"Date", "Models", "Events", "Tokens", "Cost\n(USD)", "Share"})

	maxTokens := float64(rollup.Daily.MaxTokens())
	var totalTokens int64
	var totalCost float64
	var totalEvents int

	for _, day := range days {
		totals := rollup.Daily[day]
		totalTokens += totals.Tokens
		totalCost += totals.Cost
		totalEvents += totals.Events

		modelsStr := "-"
		if list := models[day]; len(list) > 0 {
			short := make([]string, 0, len(list))
			for _, m := range list {
				short = append(short, "- "+ShortenModelName(m))
			}
			modelsStr = strings.Join(short, "\n")
		}

		bars := barLength(float64(totals.Tokens), maxTokens, summaryBarWidth)
		table.Append([]string{
			day,
			modelsStr,
			fmt.Sprintf("%d", totals.Events),
			formatNumber(totals.Tokens),
			fmt.Sprintf("$%.4f", totals.Cost),
			strings.Repeat(barRune, bars),
		})
	}

	table.Footer([]string{
		"Total",
		"",
		fmt.Sprintf("%d", totalEvents),
		formatNumber(totalTokens),
		fmt.Sprintf("$%.4f", totalCost),
		"",
	})

	table.Render()

	if f.noColor {
		output.WriteString(buf.String())
		return output.String()
	}
	output.WriteString(f.colorize(buf.String()))
	return output.String()
}

var barRun = regexp.MustCompile(barRune + "+")

// colorize applies colour after rendering so column widths stay intact.
func (f *TableWriterFormatter) colorize(table string) string {
	lines := strings.Split(table, "\n")
	var colored strings.Builder

	for i, line := range lines {
		if line == "" {
			if i < len(lines)-1 {
				colored.WriteString("\n")
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "┌") || strings.HasPrefix(line, "├") || strings.HasPrefix(line, "└"):
			colored.WriteString(f.border.Render(line))
		case strings.Contains(line, "│"):
			parts := strings.Split(line, "│")
			for j, part := range parts {
				if j > 0 {
					colored.WriteString(f.border.Render("│"))
				}
				switch {
				case i <= 2 && strings.TrimSpace(part) != "":
					colored.WriteString(f.header.Render(part))
				case strings.Contains(strings.ToLower(line), "total") && strings.TrimSpace(part) != "":
					colored.WriteString(f.total.Render(part))
				default:
					colored.WriteString(f.colorBars(part))
				}
			}
		default:
			colored.WriteString(line)
		}

		if i < len(lines)-1 {
			colored.WriteString("\n")
		}
	}
	return colored.String()
}

// colorBars paints each bar run along the gradient by its length.
func (f *TableWriterFormatter) colorBars(cell string) string {
	return barRun.ReplaceAllStringFunc(cell, func(bar string) string {
		ratio := float64(len([]rune(bar))) / float64(summaryBarWidth)
		c := f.barFrom.BlendLab(f.barTo, ratio).Clamped()
		return lipgloss.NewStyle().Foreground(lipgloss.Color(c.Hex())).Render(bar)
	})
}

var (
	claudeMinorVersion = regexp.MustCompile(`^claude-(\w+)-(\d+)-(\d{1,2})(?:-\d{8})?$`)
	claudeMajorVersion = regexp.MustCompile(`^claude-(\w+)-(\d+)(?:-\d{8})?$`)
)

// ShortenModelName simplifies a model identifier for display:
//
//	anthropic/claude-opus-4-1-20250805 -> Opus-4.1
//	claude-sonnet-4-20250514           -> Sonnet-4
//	openai/gpt-4o-mini                 -> gpt-4o-mini
func ShortenModelName(model string) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}

	if matches := claudeMinorVersion.FindStringSubmatch(model); matches != nil {
		return fmt.Sprintf("%s-%s.%s", titleCase(matches[1]), matches[2], matches[3])
	}
	if matches := claudeMajorVersion.FindStringSubmatch(model); matches != nil {
		return fmt.Sprintf("%s-%s", titleCase(matches[1]), matches[2])
	}

	if len(model) > 16 {
		return model[:16]
	}
	return model
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}
