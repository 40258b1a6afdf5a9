// Package exporter turns OpenClaw session logs into usage reports: a CSV of
// every usage event, a JSON daily rollup and a Markdown report with bar
// charts. Unreadable files and unparsable lines are skipped; only failures
// to create or write the outputs abort a run.
package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sdpower/clawtools/internal/calculator"
	"github.com/sdpower/clawtools/internal/loader"
	"github.com/sdpower/clawtools/internal/output"
	"github.com/sdpower/clawtools/internal/types"
)

const (
	EventsFileName = "usage_events.csv"
	RollupFileName = "usage_rollups.json"
	ReportFileName = "USAGE_REPORT.md"
)

type Options struct {
	BaseDir string
	OutDir  string
	Pattern string
	Workers int
	Since   string // inclusive YYYY-MM-DD, optional
	Until   string // inclusive YYYY-MM-DD, optional
	Logger  *slog.Logger
	Now     func() time.Time
}

type Result struct {
	CSVPath      string
	RollupPath   string
	ReportPath   string
	EventCount   int
	Events       []types.UsageEvent
	Rollup       types.Rollup
	FilesScanned int
	FilesSkipped int
}

// Paths returns the written files in the order they were produced.
func (r *Result) Paths() []string {
	return []string{r.CSVPath, r.RollupPath, r.ReportPath}
}

func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.OutDir == "" {
		return nil, fmt.Errorf("%w: output directory is required", types.ErrInvalidConfig)
	}
	if err := calculator.ValidateDay(opts.Since); err != nil {
		return nil, fmt.Errorf("invalid since: %w", err)
	}
	if err := calculator.ValidateDay(opts.Until); err != nil {
		return nil, fmt.Errorf("invalid until: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	dataLoader := loader.New()
	dataLoader.SetPattern(opts.Pattern)
	dataLoader.SetWorkers(opts.Workers)
	dataLoader.SetLogger(logger)

	events, files, err := dataLoader.LoadFromPath(ctx, opts.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage data: %w", err)
	}

	events = calculator.FilterByDay(events, opts.Since, opts.Until)
	calculator.SortEvents(events)
	rollup := calculator.BuildRollup(events, now())

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	formatter := output.NewFormatter(output.FormatterOptions{})
	result := &Result{
		CSVPath:      filepath.Join(opts.OutDir, EventsFileName),
		RollupPath:   filepath.Join(opts.OutDir, RollupFileName),
		ReportPath:   filepath.Join(opts.OutDir, ReportFileName),
		EventCount:   len(events),
		Events:       events,
		Rollup:       rollup,
		FilesScanned: len(files),
	}
	for _, f := range files {
		if f.Err != nil {
			result.FilesSkipped++
		}
	}

	if err := writeFile(result.CSVPath, formatter.FormatEventsCSV(events)); err != nil {
		return nil, err
	}

	rollupJSON, err := formatter.FormatJSON(rollup)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rollup: %w", err)
	}
	if err := writeFile(result.RollupPath, rollupJSON); err != nil {
		return nil, err
	}

	if err := writeFile(result.ReportPath, formatter.FormatMarkdown(rollup)); err != nil {
		return nil, err
	}

	logger.Debug("usage export complete",
		"events", result.EventCount,
		"days", len(rollup.Daily),
		"files", result.FilesScanned,
		"skipped_files", result.FilesSkipped)
	return result, nil
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
