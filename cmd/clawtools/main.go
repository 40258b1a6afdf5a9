package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sdpower/clawtools/internal/commands"
	"github.com/spf13/cobra"
)

func main() {
	ctx := context.Background()

	rootCmd := &cobra.Command{
		Use:           "clawtools",
		Short:         "OpenClaw agent usage reports and repository secret scrubbing",
		Long:          `Maintenance utilities for an OpenClaw agent platform: export token usage from session logs, and scrub a leaked secret from git history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	commands.AddGlobalFlags(rootCmd)

	rootCmd.AddCommand(
		commands.NewUsageCommand(),
		commands.NewScrubCommand(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
