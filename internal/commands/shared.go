package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sdpower/clawtools/internal/config"
	"github.com/spf13/cobra"
)

// Names of the persistent flags registered on the root command.
const (
	ConfigFlag = "config"
	DebugFlag  = "debug"
)

// AddGlobalFlags registers the flags every subcommand reads.
func AddGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().String(ConfigFlag, "", "Path to config file (default .clawtools.yaml in the working directory)")
	root.PersistentFlags().Bool(DebugFlag, false, "Show debug information")
}

// loadConfig reads --config when given, otherwise a local config file if one
// exists in the working directory.
func loadConfig(cmd *cobra.Command) (config.FileConfig, error) {
	path, _ := cmd.Flags().GetString(ConfigFlag)
	if path != "" {
		cfg, err := config.LoadFile(config.ExpandHome(path))
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return config.FileConfig{}, nil
	}
	cfg, _, err := config.LoadLocal(wd)
	if errors.Is(err, config.ErrNoConfig) {
		return config.FileConfig{}, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger writes text logs to w. Only warnings show unless --debug is set.
func newLogger(cmd *cobra.Command, w io.Writer) *slog.Logger {
	debug, _ := cmd.Flags().GetBool(DebugFlag)
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// colorEnabled reports whether styled output should be written to w.
func colorEnabled(w io.Writer, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
