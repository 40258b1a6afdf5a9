package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sdpower/clawtools/internal/types"
	"gopkg.in/yaml.v3"
)

const (
	EnvAgentsDir   = "OPENCLAW_AGENTS_DIR"
	EnvScrubSecret = "CLAWTOOLS_SCRUB_SECRET"

	DefaultOutDir      = "analytics/usage"
	DefaultPattern     = "**/sessions/*.jsonl"
	DefaultWorkers     = 4
	DefaultPlaceholder = "hub_secret_key_REDACTED_BY_SECURITY_AUDIT"
)

// ErrNoConfig is returned by LoadLocal when no config file exists.
var ErrNoConfig = errors.New("no local config")

// FileConfig is the on-disk YAML configuration shape. Nil fields keep the
// built-in defaults.
type FileConfig struct {
	Usage *UsageConfig `yaml:"usage"`
	Scrub *ScrubConfig `yaml:"scrub"`
}

type UsageConfig struct {
	BaseDir *string `yaml:"base_dir"`
	OutDir  *string `yaml:"out_dir"`
	Pattern *string `yaml:"pattern"`
	Workers *int    `yaml:"workers"`
}

type ScrubConfig struct {
	Repo        *string `yaml:"repo"`
	Secret      *string `yaml:"secret"`
	Placeholder *string `yaml:"placeholder"`
}

// Usage is the resolved exporter configuration.
type Usage struct {
	BaseDir string
	OutDir  string
	Pattern string
	Workers int
}

// Scrub is the resolved history scrubber configuration.
type Scrub struct {
	Repo        string
	Secret      string
	Placeholder string
}

// LoadFile reads a YAML config file. Unknown keys are rejected.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%w: %s: %v", types.ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// LoadLocal looks for .clawtools.yaml or .clawtools.yml in dir.
func LoadLocal(dir string) (FileConfig, string, error) {
	for _, name := range []string{".clawtools.yaml", ".clawtools.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			cfg, err := LoadFile(p)
			return cfg, p, err
		}
	}
	return FileConfig{}, "", ErrNoConfig
}

// DefaultBaseDir is the OpenClaw agents directory under the user's home.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".openclaw", "agents")
	}
	return filepath.Join(home, ".openclaw", "agents")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ResolveUsage applies defaults, then file values, then environment.
func (fc FileConfig) ResolveUsage(getenv func(string) string) (Usage, error) {
	u := Usage{
		BaseDir: DefaultBaseDir(),
		OutDir:  DefaultOutDir,
		Pattern: DefaultPattern,
		Workers: DefaultWorkers,
	}

	if c := fc.Usage; c != nil {
		if c.BaseDir != nil && *c.BaseDir != "" {
			u.BaseDir = *c.BaseDir
		}
		if c.OutDir != nil && *c.OutDir != "" {
			u.OutDir = *c.OutDir
		}
		if c.Pattern != nil && *c.Pattern != "" {
			u.Pattern = *c.Pattern
		}
		if c.Workers != nil {
			if *c.Workers < 1 {
				return u, types.ValidationError{Field: "usage.workers", Message: "must be at least 1"}
			}
			u.Workers = *c.Workers
		}
	}
	if v := getenv(EnvAgentsDir); v != "" {
		u.BaseDir = v
	}

	u.BaseDir = ExpandHome(u.BaseDir)
	u.OutDir = ExpandHome(u.OutDir)
	return u, nil
}

// ResolveScrub applies defaults, then file values, then environment. The
// secret has no default.
func (fc FileConfig) ResolveScrub(getenv func(string) string) Scrub {
	s := Scrub{
		Repo:        ".",
		Placeholder: DefaultPlaceholder,
	}

	if c := fc.Scrub; c != nil {
		if c.Repo != nil && *c.Repo != "" {
			s.Repo = *c.Repo
		}
		if c.Secret != nil {
			s.Secret = *c.Secret
		}
		if c.Placeholder != nil {
			s.Placeholder = *c.Placeholder
		}
	}

	if v := getenv(EnvScrubSecret); v != "" {
		s.Secret = v
	}

	s.Repo = ExpandHome(s.Repo)
	return s
}
