package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/sdpower/clawtools/internal/config"
	"github.com/sdpower/clawtools/internal/scrub"
	"github.com/spf13/cobra"
)

func NewScrubCommand() *cobra.Command {
	var (
		repo         string
		secret       string
		placeholder  string
		backupBranch string
		dryRun       bool
		summary      string
	)

	cmd := &cobra.Command{
		Use:   "scrub",
		Short: "Replace a leaked secret in every blob of a repository's history (rewrites history)",
		Long: `Rewrite every commit reachable from any ref so that the given secret literal
is replaced by a placeholder. Binary blobs are left untouched. Refs are moved to the
rewritten commits and the worktree is reset to the new HEAD. Force-push afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fileCfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg := fileCfg.ResolveScrub(os.Getenv)

			flags := cmd.Flags()
			if flags.Changed("repo") {
				cfg.Repo = config.ExpandHome(repo)
			}
			if flags.Changed("secret") {
				cfg.Secret = secret
			}
			if flags.Changed("placeholder") {
				cfg.Placeholder = placeholder
			}

			redactor, err := scrub.NewRedactor(cfg.Secret, cfg.Placeholder)
			if err != nil {
				return fmt.Errorf("%w (use --secret or %s)", err, config.EnvScrubSecret)
			}

			opts := scrub.Options{
				Force:        true,
				DryRun:       dryRun,
				BackupBranch: backupBranch,
				Logger:       newLogger(cmd, cmd.ErrOrStderr()),
			}
			rewriter, err := scrub.Open(cfg.Repo, opts)
			if err != nil {
				return err
			}
			stats, err := rewriter.Run(cmd.Context(), redactor.Transform)
			if err != nil {
				return fmt.Errorf("failed to rewrite history: %w", err)
			}

			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintf(out, "Dry run: %d of %d blobs would be redacted across %d commits; %d refs would move.\n",
					stats.BlobsRedacted, stats.BlobsVisited, stats.CommitsVisited, stats.RefsUpdated)
			} else {
				fmt.Fprintf(out, "Redacted %d blobs, rewrote %d commits, updated %d refs, pruned %d objects.\n",
					stats.BlobsRedacted, stats.CommitsRewritten, stats.RefsUpdated, stats.ObjectsPruned)
				if stats.RefsUpdated > 0 {
					fmt.Fprintln(out, "History rewritten. You likely need to force-push:")
					fmt.Fprintln(out, "  git push --force --all && git push --force --tags")
				}
				if backupBranch != "" {
					fmt.Fprintf(out, "A backup branch was created: %s\n", backupBranch)
					fmt.Fprintln(out, "The backup branch still contains the secret; delete it once the rewrite is verified.")
				}
			}

			if summary != "" {
				s := scrub.NewSummary(cfg.Repo, cfg.Placeholder, opts, stats, time.Now())
				if err := scrub.WriteSummary(summary, s); err != nil {
					return fmt.Errorf("failed to write summary: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository to rewrite (default current directory)")
	cmd.Flags().StringVar(&secret, "secret", "", "Secret literal to remove (or set "+config.EnvScrubSecret+")")
	cmd.Flags().StringVar(&placeholder, "placeholder", config.DefaultPlaceholder, "Replacement text")
	cmd.Flags().StringVar(&backupBranch, "backup-branch", "", "Create this branch at the original HEAD before rewriting (keeps the secret reachable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing anything")
	cmd.Flags().StringVar(&summary, "summary", "", "Write a JSON summary to this path")

	return cmd
}
