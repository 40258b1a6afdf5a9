package scrub

import (
	"encoding/json"
	"os"
	"time"
)

// Summary is the JSON record written by `scrub --summary`.
type Summary struct {
	Action       string `json:"action"`
	Repo         string `json:"repo"`
	Placeholder  string `json:"placeholder"`
	BackupBranch string `json:"backup_branch,omitempty"`
	DryRun       bool   `json:"dry_run"`
	Stats        Stats  `json:"stats"`
	Timestamp    string `json:"timestamp"`
}

func NewSummary(repo, placeholder string, opts Options, stats *Stats, now time.Time) Summary {
	s := Summary{
		Action:       "scrub.secret",
		Repo:         repo,
		Placeholder:  placeholder,
		BackupBranch: opts.BackupBranch,
		DryRun:       opts.DryRun,
		Timestamp:    now.Format(time.RFC3339),
	}
	if stats != nil {
		s.Stats = *stats
	}
	return s
}

func WriteSummary(path string, s Summary) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
