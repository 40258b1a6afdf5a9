package exporter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sdpower/clawtools/internal/calculator"
	"github.com/sdpower/clawtools/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioMessage = `{"type":"message","timestamp":"2024-01-01T00:00:00Z","message":{"model":"m1","provider":"p1","usage":{"input":10,"output":5,"totalTokens":15,"cost":{"total":0.002}}}}`

func writeSession(t *testing.T, base, rel string, lines ...string) string {
	t.Helper()
	path := filepath.Join(base, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func fixedNow() time.Time {
	return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
}

func readCSVRows(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	var rows [][]string
	for _, line := range lines[1:] {
		require.True(t, len(line) >= 2 && line[0] == '"' && line[len(line)-1] == '"', "unquoted row %q", line)
		cells := strings.Split(line[1:len(line)-1], `","`)
		rows = append(rows, cells)
	}
	return rows
}

func readRollup(t *testing.T, path string) types.Rollup {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rollup types.Rollup
	require.NoError(t, json.Unmarshal(data, &rollup))
	return rollup
}

func TestRunScenario(t *testing.T) {
	base := t.TempDir()
	out := filepath.Join(t.TempDir(), "analytics", "usage")
	session := writeSession(t, base, "main/sessions/one.jsonl", scenarioMessage, `{"type":"other"}`)

	res, err := Run(context.Background(), Options{BaseDir: base, OutDir: out, Now: fixedNow})
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(out, EventsFileName),
		filepath.Join(out, RollupFileName),
		filepath.Join(out, ReportFileName),
	}, res.Paths())

	rows := readCSVRows(t, res.CSVPath)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"2024-01-01T00:00:00Z", "p1", "m1", "10", "5", "0", "0", "15", "0.002", session}, rows[0])

	rollup := readRollup(t, res.RollupPath)
	assert.Equal(t, 1, rollup.EventCount)
	assert.Equal(t, "2024-02-01T12:00:00.000000Z", rollup.GeneratedAt)
	assert.Equal(t, types.DayTotals{Tokens: 15, Cost: 0.002, Events: 1}, rollup.Daily["2024-01-01"])

	report, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "- 2024-01-01: 15 | "+strings.Repeat("█", 30)+"\n")
	assert.Contains(t, string(report), "- 2024-01-01: $0.0020 | ")
}

func TestRunCountsOnlyValidRecords(t *testing.T) {
	base := t.TempDir()
	valid := func(ts string, tokens int) string {
		return `{"type":"message","timestamp":"` + ts + `","message":{"usage":{"totalTokens":` + strconv.Itoa(tokens) + `}}}`
	}
	writeSession(t, base, "a/sessions/1.jsonl",
		valid("2024-01-02T03:00:00Z", 100),
		`garbage`,
		valid("2024-01-01T03:00:00Z", 50),
		`{"type":"message","message":{}}`,
	)
	writeSession(t, base, "b/c/sessions/2.jsonl",
		valid("2024-01-02T09:00:00Z", 25),
		`{"type":"message","message":{"usage":{"totalTokens":4}}}`,
		`{"type":"note"}`,
	)
	writeSession(t, base, "b/c/sessions/ignored.txt", valid("2024-01-05T00:00:00Z", 999))

	res, err := Run(context.Background(), Options{BaseDir: base, OutDir: t.TempDir(), Workers: 2, Now: fixedNow})
	require.NoError(t, err)

	rows := readCSVRows(t, res.CSVPath)
	require.Len(t, rows, 4)
	rollup := readRollup(t, res.RollupPath)
	assert.Equal(t, 4, rollup.EventCount)

	// Missing timestamp sorts first and lands in the unknown bucket.
	assert.Equal(t, "", rows[0][0])
	assert.Equal(t, types.DayTotals{Tokens: 4, Events: 1}, rollup.Daily[types.UnknownDay])

	sums := map[string]int64{}
	for _, row := range rows {
		n, err := strconv.ParseInt(row[7], 10, 64)
		require.NoError(t, err)
		sums[calculator.DayKey(row[0])] += n
	}
	for day, totals := range rollup.Daily {
		assert.Equal(t, totals.Tokens, sums[day], "day %s", day)
	}
	assert.Equal(t, int64(125), rollup.Daily["2024-01-02"].Tokens)
}

func TestRunIsIdempotent(t *testing.T) {
	base := t.TempDir()
	writeSession(t, base, "x/sessions/a.jsonl", scenarioMessage, scenarioMessage)
	writeSession(t, base, "y/sessions/b.jsonl", `{"type":"message","message":{"usage":{"output":3,"totalTokens":3}}}`)
	out := t.TempDir()

	first, err := Run(context.Background(), Options{BaseDir: base, OutDir: out, Now: fixedNow})
	require.NoError(t, err)
	csv1, err := os.ReadFile(first.CSVPath)
	require.NoError(t, err)
	rollup1 := readRollup(t, first.RollupPath)

	second, err := Run(context.Background(), Options{
		BaseDir: base,
		OutDir:  out,
		Now:     func() time.Time { return fixedNow().Add(time.Hour) },
	})
	require.NoError(t, err)
	csv2, err := os.ReadFile(second.CSVPath)
	require.NoError(t, err)
	rollup2 := readRollup(t, second.RollupPath)

	assert.Equal(t, string(csv1), string(csv2))
	assert.NotEqual(t, rollup1.GeneratedAt, rollup2.GeneratedAt)
	rollup2.GeneratedAt = rollup1.GeneratedAt
	assert.Equal(t, rollup1, rollup2)
}

func TestRunWithNoSessions(t *testing.T) {
	out := filepath.Join(t.TempDir(), "reports")
	res, err := Run(context.Background(), Options{BaseDir: filepath.Join(t.TempDir(), "missing"), OutDir: out, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, 0, res.EventCount)

	csv, err := os.ReadFile(res.CSVPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(csv), "\n"))

	rollup := readRollup(t, res.RollupPath)
	assert.Empty(t, rollup.Daily)
}

func TestRunDateFilter(t *testing.T) {
	base := t.TempDir()
	writeSession(t, base, "a/sessions/s.jsonl",
		scenarioMessage,
		strings.Replace(scenarioMessage, "2024-01-01", "2024-01-03", 1),
		`{"type":"message","message":{"usage":{"totalTokens":1}}}`,
	)

	res, err := Run(context.Background(), Options{BaseDir: base, OutDir: t.TempDir(), Since: "2024-01-02", Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, 1, res.EventCount)
	assert.Equal(t, []string{"2024-01-03"}, res.Rollup.Daily.Days())

	_, err = Run(context.Background(), Options{BaseDir: base, OutDir: t.TempDir(), Until: "Jan 3"})
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestRunFailsWhenOutputDirCannotBeCreated(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Run(context.Background(), Options{BaseDir: t.TempDir(), OutDir: filepath.Join(blocker, "out")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create output directory")
}

func TestRunOverwritesOutputs(t *testing.T) {
	out := t.TempDir()
	stale := filepath.Join(out, ReportFileName)
	require.NoError(t, os.WriteFile(stale, []byte(strings.Repeat("stale\n", 100)), 0o644))

	_, err := Run(context.Background(), Options{BaseDir: t.TempDir(), OutDir: out, Now: fixedNow})
	require.NoError(t, err)

	data, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "stale")
	assert.True(t, strings.HasPrefix(string(data), "# OpenClaw Usage Report\n"))
}

func TestRunKeepsEventsAroundLongToolResults(t *testing.T) {
	base := t.TempDir()
	toolResult := `{"type":"toolResult","content":"` + strings.Repeat("x", 2*1024*1024) + `"}`
	writeSession(t, base, "main/sessions/s.jsonl", scenarioMessage, toolResult, scenarioMessage)

	res, err := Run(context.Background(), Options{BaseDir: base, OutDir: t.TempDir(), Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, 2, res.EventCount)
	assert.Zero(t, res.FilesSkipped)
	assert.Equal(t, types.DayTotals{Tokens: 30, Cost: 0.004, Events: 2}, res.Rollup.Daily["2024-01-01"])
}

func TestRunWithBasePathThatIsAFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "agents")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o644))

	res, err := Run(context.Background(), Options{BaseDir: base, OutDir: t.TempDir(), Now: fixedNow})
	require.NoError(t, err)
	assert.Zero(t, res.EventCount)
	assert.FileExists(t, res.ReportPath)
}
