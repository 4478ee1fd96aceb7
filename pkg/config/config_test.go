package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxo/calgen/pkg/calendar"
	"github.com/fluxo/calgen/pkg/locales"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, EngineChromedp, cfg.Renderer.Engine)
	assert.Equal(t, 8, cfg.Renderer.MaxPages)
	assert.Equal(t, PartialKeep, cfg.Archive.OnPartial)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
build:
  years: [2026]
  formats: [a4]
  locales: [en]
renderer:
  engine: rod
  render_timeout: 15s
  max_pages: 2
output:
  directory: /tmp/calendars
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2026}, cfg.Build.Years)
	assert.Equal(t, EngineRod, cfg.Renderer.Engine)
	assert.Equal(t, 15*time.Second, cfg.Renderer.RenderTimeout)
	assert.Equal(t, 2, cfg.Renderer.MaxPages)
	assert.Equal(t, "/tmp/calendars", cfg.Output.Directory)
	// untouched sections keep defaults
	assert.Equal(t, []string{"csv", "xlsx"}, cfg.Report.Formats)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CALGEN_OUTPUT_DIR", "/srv/out")
	t.Setenv("CALGEN_TARGET_URL", "http://render:8080")
	t.Setenv("OSS_BUCKET", "from-env")

	cfg, err := LoadConfig(writeConfig(t, "output:\n  directory: /ignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/out", cfg.Output.Directory)
	assert.Equal(t, "http://render:8080", cfg.Renderer.TargetURL)
	assert.Equal(t, "from-env", cfg.Publish.OSS.Bucket)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "build: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"no years":          func(c *Config) { c.Build.Years = nil },
		"bad year":          func(c *Config) { c.Build.Years = []int{12} },
		"unknown theme":     func(c *Config) { c.Build.Themes = []string{"neon"} },
		"unknown format":    func(c *Config) { c.Build.Formats = []string{"letter"} },
		"bad week start":    func(c *Config) { c.Build.WeekStarts = []string{"3"} },
		"unknown engine":    func(c *Config) { c.Renderer.Engine = "webkit" },
		"bad target":        func(c *Config) { c.Renderer.TargetURL = "not a url" },
		"zero pages":        func(c *Config) { c.Renderer.MaxPages = 0 },
		"zero timeout":      func(c *Config) { c.Renderer.RenderTimeout = 0 },
		"partial policy":    func(c *Config) { c.Archive.OnPartial = "maybe" },
		"report format":     func(c *Config) { c.Report.Formats = []string{"pdf"} },
		"publish no bucket": func(c *Config) { c.Publish.Enabled = true },
		"publish backend":   func(c *Config) { c.Publish.Enabled = true; c.Publish.Backend = "ftp" },
		"publish no archive": func(c *Config) {
			c.Publish.Enabled = true
			c.Archive.Enabled = false
		},
		"bad port": func(c *Config) { c.Monitoring.MetricsPort = 70000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate_S3Publish(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Publish.Enabled = true
	cfg.Publish.Backend = BackendS3
	cfg.Publish.S3.Bucket = "calendars"
	assert.Error(t, cfg.Validate())

	cfg.Publish.S3.AccessKey = "key"
	cfg.Publish.S3.SecretKey = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestMatrix(t *testing.T) {
	cat, err := locales.Default()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Build.Years = []int{2026}
	cfg.Build.Formats = []string{"a4"}
	cfg.Build.Locales = []string{"de"}

	m, err := cfg.Matrix(cat)
	require.NoError(t, err)
	assert.Equal(t, []calendar.Format{calendar.FormatA4}, m.Formats)
	assert.Equal(t, []calendar.WeekStart{calendar.Monday, calendar.Sunday}, m.WeekStarts)
	require.Len(t, m.Locales, 1)
	assert.Equal(t, "de", m.Locales[0].Code)
	assert.Equal(t, 8, m.Size())

	cfg.Build.Locales = []string{"zz"}
	_, err = cfg.Matrix(cat)
	assert.Error(t, err)
}
