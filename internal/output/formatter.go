package output

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sdpower/clawtools/internal/types"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// CSVHeader is the first row of usage_events.csv.
var CSVHeader = []string{
	"timestamp", "provider", "model", "input", "output",
	"cacheRead", "cacheWrite", "totalTokens", "costTotal", "sessionFile",
}

const defaultBarWidth = 30

type Formatter struct {
	options FormatterOptions
}

type FormatterOptions struct {
	BarWidth int // full-scale bar length in the Markdown report
}

func NewFormatter(opts FormatterOptions) *Formatter {
	if opts.BarWidth <= 0 {
		opts.BarWidth = defaultBarWidth
	}
	return &Formatter{options: opts}
}

// FormatJSON renders data with 2-space indentation, leaving <, > and &
// unescaped, followed by a newline.
func (f *Formatter) FormatJSON(data interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatCSV renders rows with every cell double-quoted and embedded quotes
// doubled. No other escaping is applied.
func (f *Formatter) FormatCSV(data [][]string) string {
	var output strings.Builder
	for _, row := range data {
		for i, cell := range row {
			if i > 0 {
				output.WriteString(",")
			}
			output.WriteString("\"")
			output.WriteString(strings.ReplaceAll(cell, "\"", "\"\""))
			output.WriteString("\"")
		}
		output.WriteString("\n")
	}
	return output.String()
}

// FormatEventsCSV renders the header plus one row per event, in the given order.
func (f *Formatter) FormatEventsCSV(events []types.UsageEvent) string {
	rows := make([][]string, 0, len(events)+1)
	rows = append(rows, CSVHeader)
	for _, e := range events {
		rows = append(rows, []string{
			e.Timestamp,
			e.Provider,
			e.Model,
			strconv.FormatInt(e.Input, 10),
			strconv.FormatInt(e.Output, 10),
			strconv.FormatInt(e.CacheRead, 10),
			strconv.FormatInt(e.CacheWrite, 10),
			strconv.FormatInt(e.TotalTokens, 10),
			formatCost(e.CostTotal),
			e.SessionFile,
		})
	}
	return f.FormatCSV(rows)
}

func formatCost(c float64) string {
	return strconv.FormatFloat(c, 'f', -1, 64)
}

var numberPrinter = message.NewPrinter(language.English)

// formatNumber groups digits with commas: 1234567 -> 1,234,567.
func formatNumber(n int64) string {
	return numberPrinter.Sprintf("%d", n)
}

// barLength scales value against max onto [0, width], rounding down.
func barLength(value, max float64, width int) int {
	if max <= 0 || value <= 0 {
		return 0
	}
	n := int(value / max * float64(width))
	if n > width {
		n = width
	}
	return n
}
