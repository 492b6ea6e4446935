package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, ".svn", cfg.MetadataDir)
	require.Equal(t, 4, cfg.MaxDepth)
	require.Equal(t, 16, cfg.Concurrency)
	require.Equal(t, []string{"**/node_modules", "**/.git", "**/.hg"}, cfg.IgnoreGlobs)
	require.True(t, cfg.DetectExternals)
	require.True(t, cfg.DetectIgnored)
	require.True(t, cfg.Watch)
	require.Equal(t, 500*time.Millisecond, cfg.Debounce)
	require.Equal(t, 30*time.Second, cfg.RootCacheTTL)
	require.Equal(t, "svn", cfg.SVNBinary)
	require.False(t, cfg.Upgrade.Auto)
	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, "file", cfg.Tracing.Exporter)
	require.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty metadata dir", func(c *Config) { c.MetadataDir = "" }, "metadata_dir"},
		{"nested metadata dir", func(c *Config) { c.MetadataDir = "a/.svn" }, "metadata_dir"},
		{"negative depth", func(c *Config) { c.MaxDepth = -1 }, "max_depth"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"negative debounce", func(c *Config) { c.Debounce = -time.Second }, "debounce"},
		{"empty glob", func(c *Config) { c.IgnoreGlobs = []string{""} }, "ignore_globs[0]"},
		{"bad glob", func(c *Config) { c.IgnoreGlobs = []string{"**/ok", "[abc"} }, "ignore_globs[1]"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "sample_rate"},
		{"exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, "tracing.exporter"},
		{"file path", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.FilePath = ""
		}, "file_path"},
		{"otlp endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
			c.Tracing.OTLPEndpoint = ""
		}, "otlp_endpoint"},
		{"zero depth is fine", func(c *Config) { c.MaxDepth = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTracing_DisabledSkipsRequiredFields(t *testing.T) {
	tc := Defaults().Tracing
	tc.Exporter = "otlp"
	tc.OTLPEndpoint = ""
	require.NoError(t, ValidateTracing(tc))

	tc.Exporter = ""
	require.NoError(t, ValidateTracing(tc), "empty exporter uses the default")
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_depth: 2\ndebounce: 1s\nupgrade:\n  auto: true\n"), 0o600))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.MaxDepth)
	require.Equal(t, time.Second, cfg.Debounce)
	require.True(t, cfg.Upgrade.Auto)
	require.Equal(t, ".svn", cfg.MetadataDir)
	require.Equal(t, 16, cfg.Concurrency)
	require.Equal(t, Defaults().IgnoreGlobs, cfg.IgnoreGlobs)
}

func TestLoad_InvalidConfig(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("concurrency", 0)

	_, err := Load(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "concurrency")
}

func TestDefaultConfigTemplate_ParsesToDefaults(t *testing.T) {
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(DefaultConfigTemplate()), &raw))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.MergeConfigMap(raw))

	cfg, err := Load(v)
	require.NoError(t, err)

	want := Defaults()
	require.Equal(t, want.MetadataDir, cfg.MetadataDir)
	require.Equal(t, want.MaxDepth, cfg.MaxDepth)
	require.Equal(t, want.Concurrency, cfg.Concurrency)
	require.Equal(t, want.IgnoreGlobs, cfg.IgnoreGlobs)
	require.Equal(t, want.Debounce, cfg.Debounce)
	require.Equal(t, want.RootCacheTTL, cfg.RootCacheTTL)
	require.Equal(t, want.DetectExternals, cfg.DetectExternals)
	require.Equal(t, want.Tracing.Exporter, cfg.Tracing.Exporter)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestDefaultTracesFilePath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	require.Equal(t, "/home/tester/.config/wcroots/traces/traces.jsonl", DefaultTracesFilePath())
}
