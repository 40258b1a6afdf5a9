package loader

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sdpower/clawtools/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMessage = `{"type":"message","timestamp":"2024-01-01T00:00:00Z","message":{"model":"m1","provider":"p1","usage":{"input":10,"output":5,"totalTokens":15,"cost":{"total":0.002}}}}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind LineKind
		want types.UsageEvent
	}{
		{
			name: "full message",
			line: sampleMessage,
			kind: LineEvent,
			want: types.UsageEvent{
				Timestamp:   "2024-01-01T00:00:00Z",
				Model:       "m1",
				Provider:    "p1",
				Input:       10,
				Output:      5,
				TotalTokens: 15,
				CostTotal:   0.002,
			},
		},
		{
			name: "defaults for missing fields",
			line: `{"type":"message","message":{"usage":{"cacheRead":7}}}`,
			kind: LineEvent,
			want: types.UsageEvent{Model: "unknown", Provider: "unknown", CacheRead: 7},
		},
		{
			name: "cost not an object",
			line: `{"type":"message","message":{"model":"m","usage":{"totalTokens":3,"cost":1.5}}}`,
			kind: LineEvent,
			want: types.UsageEvent{Model: "m", Provider: "unknown", TotalTokens: 3},
		},
		{
			name: "string cost total is discarded",
			line: `{"type":"message","message":{"usage":{"totalTokens":3,"cost":{"total":"0.5"}}}}`,
			kind: LineEvent,
			want: types.UsageEvent{Model: "unknown", Provider: "unknown", TotalTokens: 3},
		},
		{
			name: "non numeric and negative tokens",
			line: `{"type":"message","message":{"usage":{"input":"12","output":-4,"cacheWrite":2.9}}}`,
			kind: LineEvent,
			want: types.UsageEvent{Model: "unknown", Provider: "unknown", CacheWrite: 2},
		},
		{
			name: "non string timestamp is absent",
			line: `{"type":"message","timestamp":1700000000,"message":{"usage":{"totalTokens":1}}}`,
			kind: LineEvent,
			want: types.UsageEvent{Model: "unknown", Provider: "unknown", TotalTokens: 1},
		},
		{
			name: "integers above 2^53 stay exact",
			line: `{"type":"message","message":{"usage":{"input":9007199254740993,"totalTokens":9223372036854775807}}}`,
			kind: LineEvent,
			want: types.UsageEvent{Model: "unknown", Provider: "unknown", Input: 9007199254740993, TotalTokens: 9223372036854775807},
		},
		{
			name: "exponent and overflow counts",
			line: `{"type":"message","message":{"usage":{"input":1.5e3,"output":1e400,"cacheRead":99999999999999999999}}}`,
			kind: LineEvent,
			want: types.UsageEvent{Model: "unknown", Provider: "unknown", Input: 1500, Output: math.MaxInt64, CacheRead: math.MaxInt64},
		},
		{name: "blank", line: "   ", kind: LineBlank},
		{name: "trailing data", line: sampleMessage + ` {}`, kind: LineMalformed},
		{name: "malformed json", line: `{"type":`, kind: LineMalformed},
		{name: "json array", line: `[1,2]`, kind: LineMalformed},
		{name: "other type", line: `{"type":"other"}`, kind: LineIgnored},
		{name: "no usage", line: `{"type":"message","message":{"model":"m"}}`, kind: LineIgnored},
		{name: "empty usage", line: `{"type":"message","message":{"usage":{}}}`, kind: LineIgnored},
		{name: "null usage", line: `{"type":"message","message":{"usage":null}}`, kind: LineIgnored},
		{name: "message not an object", line: `{"type":"message","message":"hi"}`, kind: LineIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, kind, err := ParseLine([]byte(tt.line))
			assert.Equal(t, tt.kind, kind, "kind %s", kind)
			if tt.kind == LineMalformed {
				assert.ErrorIs(t, err, types.ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, event)
		})
	}
}

func TestFindSessionFiles(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "main", "sessions", "a.jsonl"), "")
	writeFile(t, filepath.Join(base, "team", "bot", "sessions", "b.jsonl"), "")
	writeFile(t, filepath.Join(base, "main", "sessions", "notes.json"), "")
	writeFile(t, filepath.Join(base, "main", "sessions.jsonl"), "")
	writeFile(t, filepath.Join(base, "main", "sessions", "nested", "c.jsonl"), "")

	files, err := New().FindSessionFiles(base)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(base, f)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.Equal(t, []string{"main/sessions/a.jsonl", "team/bot/sessions/b.jsonl"}, rel)
}

func TestFindSessionFilesMissingBase(t *testing.T) {
	files, err := New().FindSessionFiles(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFindSessionFilesBaseIsFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "agents")
	writeFile(t, base, "not a directory")

	files, err := New().FindSessionFiles(base)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFindSessionFilesBadPattern(t *testing.T) {
	l := New()
	l.SetPattern("[")
	_, err := l.FindSessionFiles(t.TempDir())
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))
}

func TestLoadFileCountsSkippedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, strings.Join([]string{
		sampleMessage,
		`{"type":"other"}`,
		`not json`,
		``,
		`{"type":"message","message":{"model":"m"}}`,
	}, "\n"))

	res := New().LoadFile(path)
	require.NoError(t, res.Err)
	assert.Equal(t, 5, res.Lines)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 2, res.Ignored)
	require.Len(t, res.Events, 1)
	assert.Equal(t, path, res.Events[0].SessionFile)
}

func TestLoadFileMissing(t *testing.T) {
	res := New().LoadFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, res.Err)
	var le types.LoaderError
	assert.True(t, errors.As(res.Err, &le))
	assert.Empty(t, res.Events)
}

func TestLoadFileKeepsEventsAroundLongLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.jsonl")
	toolResult := `{"type":"toolResult","content":"` + strings.Repeat("A", 2*1024*1024) + `"}`
	writeFile(t, path, sampleMessage+"\n"+toolResult+"\n"+sampleMessage+"\n")

	res := New().LoadFile(path)
	require.NoError(t, res.Err)
	assert.Len(t, res.Events, 2)
	assert.Equal(t, 3, res.Lines)
	assert.Equal(t, 1, res.Ignored)
	assert.Zero(t, res.Malformed)
}

func TestLoadFileWithoutTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, sampleMessage+"\r\n"+sampleMessage)

	res := New().LoadFile(path)
	require.NoError(t, res.Err)
	assert.Len(t, res.Events, 2)
	assert.Equal(t, 2, res.Lines)
}

func TestLoadKeepsFileOrderAndSkipsBadFiles(t *testing.T) {
	base := t.TempDir()
	var paths []string
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		p := filepath.Join(base, name, "sessions", "s.jsonl")
		line := strings.Replace(sampleMessage, `"m1"`, `"`+name+`"`, 1)
		writeFile(t, p, line+"\n"+line+"\n")
		paths = append(paths, p)
	}
	paths = append(paths[:2], append([]string{filepath.Join(base, "gone.jsonl")}, paths[2:]...)...)

	l := New()
	l.SetWorkers(3)
	events, results, err := l.Load(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, results, 6)
	assert.Error(t, results[2].Err)

	var models []string
	for _, e := range events {
		models = append(models, e.Model)
	}
	assert.Equal(t, []string{"a", "a", "b", "b", "c", "c", "d", "d", "e", "e"}, models)
}

func TestLoadCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, sampleMessage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := New().Load(ctx, []string{path, path, path})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadFromPath(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "main", "sessions", "s.jsonl"), sampleMessage+"\n"+`{"type":"other"}`+"\n")

	events, results, err := New().LoadFromPath(context.Background(), base)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	require.Len(t, events, 1)
	assert.Equal(t, int64(15), events[0].TotalTokens)
}
