package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sdpower/clawtools/internal/types"
)

// LineKind classifies a single session log line.
type LineKind int

const (
	LineBlank LineKind = iota
	LineEvent
	LineMalformed
	LineIgnored
)

func (k LineKind) String() string {
	switch k {
	case LineBlank:
		return "blank"
	case LineEvent:
		return "event"
	case LineMalformed:
		return "malformed"
	case LineIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

var (
	errNotObject    = errors.New("record is not a JSON object")
	errTrailingData = errors.New("unexpected data after JSON value")
)

// ParseLine turns one JSONL line into a usage event. Only LineEvent carries
// an event; LineMalformed carries the decode error. SessionFile is left for
// the caller to fill in.
func ParseLine(line []byte) (types.UsageEvent, LineKind, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return types.UsageEvent{}, LineBlank, nil
	}

	decoded, err := decodeRecord(line)
	if err != nil {
		return types.UsageEvent{}, LineMalformed, fmt.Errorf("%w: %v", types.ErrInvalidFormat, err)
	}
	raw, ok := decoded.(map[string]interface{})
	if !ok {
		return types.UsageEvent{}, LineMalformed, fmt.Errorf("%w: %v", types.ErrInvalidFormat, errNotObject)
	}

	if typ, _ := raw["type"].(string); typ != "message" {
		return types.UsageEvent{}, LineIgnored, nil
	}

	message, ok := raw["message"].(map[string]interface{})
	if !ok {
		return types.UsageEvent{}, LineIgnored, nil
	}

	usage, ok := message["usage"].(map[string]interface{})
	if !ok || len(usage) == 0 {
		return types.UsageEvent{}, LineIgnored, nil
	}

	event := types.UsageEvent{
		Model:       stringOr(message["model"], "unknown"),
		Provider:    stringOr(message["provider"], "unknown"),
		Input:       tokenCount(usage["input"]),
		Output:      tokenCount(usage["output"]),
		CacheRead:   tokenCount(usage["cacheRead"]),
		CacheWrite:  tokenCount(usage["cacheWrite"]),
		TotalTokens: tokenCount(usage["totalTokens"]),
		CostTotal:   costTotal(usage["cost"]),
	}
	if ts, ok := raw["timestamp"].(string); ok {
		event.Timestamp = ts
	}

	return event, LineEvent, nil
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

// decodeRecord decodes exactly one JSON value, keeping numbers as
// json.Number so large integers stay exact.
func decodeRecord(line []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return decoded, nil
}

// tokenCount reads a JSON number as a non-negative integer. Integers are
// taken exactly; fractions are truncated. Anything else counts as zero.
func tokenCount(v interface{}) int64 {
	n, ok := v.(json.Number)
	if !ok {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		if i < 0 {
			return 0
		}
		return i
	}
	f, err := n.Float64()
	if err != nil && !math.IsInf(f, 1) {
		return 0
	}
	if f <= 0 || math.IsNaN(f) {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}

// costTotal reads cost.total. A missing or non-object cost, or a total that
// is not a non-negative number, yields zero.
func costTotal(v interface{}) float64 {
	cost, ok := v.(map[string]interface{})
	if !ok {
		return 0
	}
	n, ok := cost["total"].(json.Number)
	if !ok {
		return 0
	}
	total, err := n.Float64()
	if err != nil || total < 0 {
		return 0
	}
	return total
}
