package commands

import (
	"fmt"
	"os"

	"github.com/sdpower/clawtools/internal/calculator"
	"github.com/sdpower/clawtools/internal/config"
	"github.com/sdpower/clawtools/internal/exporter"
	"github.com/sdpower/clawtools/internal/output"
	"github.com/spf13/cobra"
)

func NewUsageCommand() *cobra.Command {
	var (
		baseDir string
		outDir  string
		pattern string
		workers int
		since   string
		until   string
		summary bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Export token usage and cost from agent session logs",
		Long: `Scan OpenClaw agent session logs (JSONL) for usage records and write
usage_events.csv, usage_rollups.json and USAGE_REPORT.md to the output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fileCfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg, err := fileCfg.ResolveUsage(os.Getenv)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("base-dir") {
				cfg.BaseDir = config.ExpandHome(baseDir)
			}
			if flags.Changed("out-dir") {
				cfg.OutDir = config.ExpandHome(outDir)
			}
			if flags.Changed("pattern") {
				cfg.Pattern = pattern
			}
			if flags.Changed("workers") {
				if workers < 1 {
					return fmt.Errorf("invalid --workers %d: must be at least 1", workers)
				}
				cfg.Workers = workers
			}

			logger := newLogger(cmd, cmd.ErrOrStderr())
			logger.Debug("resolved usage config",
				"base_dir", cfg.BaseDir, "out_dir", cfg.OutDir, "pattern", cfg.Pattern, "workers", cfg.Workers)

			res, err := exporter.Run(cmd.Context(), exporter.Options{
				BaseDir: cfg.BaseDir,
				OutDir:  cfg.OutDir,
				Pattern: cfg.Pattern,
				Workers: cfg.Workers,
				Since:   since,
				Until:   until,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range res.Paths() {
				fmt.Fprintf(out, "Wrote %s\n", p)
			}

			if summary {
				tableFormatter := output.NewTableWriterFormatter(!colorEnabled(out, noColor))
				fmt.Fprint(out, tableFormatter.FormatDailySummary(res.Rollup, calculator.ModelsByDay(res.Events)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseDir, "base-dir", "", "Agents directory to scan (default ~/.openclaw/agents)")
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "Directory for the generated files (default analytics/usage)")
	cmd.Flags().StringVar(&pattern, "pattern", "", "Glob for session files relative to the base directory (default **/sessions/*.jsonl)")
	cmd.Flags().IntVarP(&workers, "workers", "w", config.DefaultWorkers, "Number of files parsed concurrently")
	cmd.Flags().StringVarP(&since, "since", "s", "", "Only include events on or after this day (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&until, "until", "u", "", "Only include events on or before this day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print a daily summary table after writing the files")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}
