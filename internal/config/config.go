// Package config provides configuration types and defaults for wcroots.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"

	"github.com/zjrosen/wcroots/internal/cachemanager"
	"github.com/zjrosen/wcroots/internal/log"
	"github.com/zjrosen/wcroots/internal/paths"
	"github.com/zjrosen/wcroots/internal/scanner"
	"github.com/zjrosen/wcroots/internal/tracing"
	"github.com/zjrosen/wcroots/internal/watcher"
)

// Config holds all configuration options for wcroots.
type Config struct {
	// Roots are the workspace roots to scan. Empty means the current directory.
	Roots []string `mapstructure:"roots"`

	MetadataDir string `mapstructure:"metadata_dir"`
	MaxDepth    int    `mapstructure:"max_depth"`
	Concurrency int    `mapstructure:"concurrency"`

	IgnoreGlobs        []string `mapstructure:"ignore_globs"`
	IgnoreRepositories []string `mapstructure:"ignore_repositories"`

	// Secondary scans of externals and ignored entries on status change.
	DetectExternals bool `mapstructure:"detect_externals"`
	DetectIgnored   bool `mapstructure:"detect_ignored"`

	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`

	RootCacheTTL time.Duration `mapstructure:"root_cache_ttl"`
	SVNBinary    string        `mapstructure:"svn_binary"`

	Upgrade UpgradeConfig  `mapstructure:"upgrade"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// UpgradeConfig controls what happens to working copies in an outdated format.
type UpgradeConfig struct {
	// Auto runs `svn upgrade` and retries the open. Off by default since the
	// upgrade rewrites the working copy for newer clients only.
	Auto bool `mapstructure:"auto"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		MetadataDir:     paths.DefaultMetadataDir,
		MaxDepth:        scanner.DefaultMaxDepth,
		Concurrency:     scanner.DefaultConcurrency,
		IgnoreGlobs:     []string{"**/node_modules", "**/.git", "**/.hg"},
		DetectExternals: true,
		DetectIgnored:   true,
		Watch:           true,
		Debounce:        watcher.DefaultDebounce,
		RootCacheTTL:    cachemanager.DefaultExpiration,
		SVNBinary:       "svn",
		Tracing:         tc,
	}
}

// DefaultTracesFilePath returns ~/.config/wcroots/traces/traces.jsonl, or an
// empty string if the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "wcroots", "traces", "traces.jsonl")
}

// SetDefaults registers every default with v so that partially written
// config files still unmarshal to a complete Config.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("roots", d.Roots)
	v.SetDefault("metadata_dir", d.MetadataDir)
	v.SetDefault("max_depth", d.MaxDepth)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("ignore_globs", d.IgnoreGlobs)
	v.SetDefault("ignore_repositories", d.IgnoreRepositories)
	v.SetDefault("detect_externals", d.DetectExternals)
	v.SetDefault("detect_ignored", d.DetectIgnored)
	v.SetDefault("watch", d.Watch)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("root_cache_ttl", d.RootCacheTTL)
	v.SetDefault("svn_binary", d.SVNBinary)
	v.SetDefault("upgrade.auto", d.Upgrade.Auto)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func Validate(cfg Config) error {
	if cfg.MetadataDir == "" || strings.ContainsRune(cfg.MetadataDir, filepath.Separator) {
		return fmt.Errorf("metadata_dir must be a single directory name, got %q", cfg.MetadataDir)
	}
	if cfg.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0, got %d", cfg.MaxDepth)
	}
	if cfg.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	if cfg.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %s", cfg.Debounce)
	}
	if err := ValidateGlobs(cfg.IgnoreGlobs); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateGlobs checks that every ignore glob is a valid doublestar pattern.
func ValidateGlobs(globs []string) error {
	for i, g := range globs {
		if g == "" {
			return fmt.Errorf("ignore_globs[%d]: empty pattern", i)
		}
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("ignore_globs[%d]: invalid pattern %q", i, g)
		}
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	if tc.Exporter != "" {
		switch tc.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	if tc.Enabled {
		if tc.Exporter == "file" && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == "otlp" && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# wcroots configuration

# Workspace roots to scan. Defaults to the current directory when empty.
roots: []

# Name of the version-control metadata directory that marks a working copy.
metadata_dir: .svn

# How many directory levels below each root are listed.
max_depth: 4

# Upper bound on simultaneous directory reads.
concurrency: 16

# Directories never descended into (doublestar patterns, matched against the
# full path and the directory name).
ignore_globs:
  - "**/node_modules"
  - "**/.git"
  - "**/.hg"

# Working-copy roots that are never opened.
ignore_repositories: []

# Scan externals and ignored entries for nested working copies whenever a
# repository's status changes. Large ignored trees are better excluded with
# ignore_globs than by turning detect_ignored off.
detect_externals: true
detect_ignored: true

# Watch the roots for metadata changes and rescan after a quiet period.
watch: true
debounce: 500ms

# How long "svn info --show-item wc-root" answers are cached.
root_cache_ttl: 30s

# svn binary to run.
svn_binary: svn

upgrade:
  # Run "svn upgrade" automatically for working copies in an old format.
  auto: false

tracing:
  enabled: false
  exporter: file # none, file, stdout, otlp
  # file_path: ~/.config/wcroots/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
