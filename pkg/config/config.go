package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/fluxo/calgen/pkg/calendar"
	"github.com/fluxo/calgen/pkg/locales"
)

// Config represents the complete generator configuration
type Config struct {
	Build      BuildConfig      `yaml:"build"`
	Renderer   RendererConfig   `yaml:"renderer"`
	Output     OutputConfig     `yaml:"output"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Publish    PublishConfig    `yaml:"publish"`
	Report     ReportConfig     `yaml:"report"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// BuildConfig lists the axes of the build matrix
type BuildConfig struct {
	Years         []int    `yaml:"years"`
	Themes        []string `yaml:"themes"`
	Formats       []string `yaml:"formats"`
	Locales       []string `yaml:"locales"` // empty means the whole catalog
	WeekStarts    []string `yaml:"week_starts"`
	CalendarTypes []string `yaml:"calendar_types"`
	Orientations  []string `yaml:"orientations"`
}

// RendererConfig contains headless browser settings
type RendererConfig struct {
	Engine         string        `yaml:"engine"`     // chromedp or rod
	TargetURL      string        `yaml:"target_url"` // base URL of the calendar render target
	RemoteURL      string        `yaml:"remote_url"` // attach to a running browser instead of launching one
	BrowserPath    string        `yaml:"browser_path"`
	Headless       bool          `yaml:"headless"`
	NoSandbox      bool          `yaml:"no_sandbox"`
	MaxPages       int           `yaml:"max_pages"`
	PagesPerSecond float64       `yaml:"pages_per_second"` // 0 disables pacing
	RenderTimeout  time.Duration `yaml:"render_timeout"`
	LaunchTimeout  time.Duration `yaml:"launch_timeout"`
	IdleQuiet      time.Duration `yaml:"idle_quiet"`
}

// OutputConfig contains output tree settings
type OutputConfig struct {
	Directory string `yaml:"directory"`
	Clean     bool   `yaml:"clean"` // recreate each year directory before rendering
}

// ArchiveConfig contains bundle settings
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OnPartial string `yaml:"on_partial"` // keep or skip
	Manifest  bool   `yaml:"manifest"`
}

// PublishConfig contains bundle upload settings
type PublishConfig struct {
	Enabled bool      `yaml:"enabled"`
	Backend string    `yaml:"backend"` // oss or s3
	Prefix  string    `yaml:"prefix"`
	OSS     OSSConfig `yaml:"oss"`
	S3      S3Config  `yaml:"s3"`
}

// OSSConfig contains Alibaba Cloud OSS settings
type OSSConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	Bucket          string        `yaml:"bucket"`
	AccessKeyID     string        `yaml:"access_key_id"`
	AccessKeySecret string        `yaml:"access_key_secret"`
	PartSize        int64         `yaml:"part_size"`
	SignedURLExpiry time.Duration `yaml:"signed_url_expiry"`
	MaxRetries      int           `yaml:"max_retries"`
	UploadTimeout   time.Duration `yaml:"upload_timeout"`
}

// S3Config contains S3-compatible storage settings
type S3Config struct {
	Endpoint      string        `yaml:"endpoint"`
	Region        string        `yaml:"region"`
	Bucket        string        `yaml:"bucket"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	UsePathStyle  bool          `yaml:"use_path_style"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
	MaxRetries    int           `yaml:"max_retries"`
}

// ReportConfig contains run report settings
type ReportConfig struct {
	Enabled bool     `yaml:"enabled"`
	Formats []string `yaml:"formats"` // csv, xlsx
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	EnableTracing bool   `yaml:"enable_tracing"`
}

// MonitoringConfig contains monitoring settings. A zero port disables the listener.
type MonitoringConfig struct {
	MetricsPort int `yaml:"metrics_port"`
	StatusPort  int `yaml:"status_port"`
}

// envOverrides holds the environment variables that take precedence over the file
type envOverrides struct {
	LogLevel    string `env:"CALGEN_LOG_LEVEL"`
	OutputDir   string `env:"CALGEN_OUTPUT_DIR"`
	TargetURL   string `env:"CALGEN_TARGET_URL"`
	BrowserURL  string `env:"CALGEN_BROWSER_URL"`
	Engine      string `env:"CALGEN_ENGINE"`
	OSSEndpoint string `env:"OSS_ENDPOINT"`
	OSSBucket   string `env:"OSS_BUCKET"`
	OSSKeyID    string `env:"OSS_ACCESS_KEY_ID"`
	OSSSecret   string `env:"OSS_ACCESS_KEY_SECRET"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Build: BuildConfig{
			Years:         []int{time.Now().Year() + 1},
			Themes:        []string{string(calendar.ThemeSimple)},
			Formats:       []string{string(calendar.FormatA4), string(calendar.FormatA5)},
			WeekStarts:    []string{"monday", "sunday"},
			CalendarTypes: []string{string(calendar.Monthly), string(calendar.Yearly)},
			Orientations:  []string{string(calendar.Portrait), string(calendar.Landscape)},
		},
		Renderer: RendererConfig{
			Engine:        "chromedp",
			TargetURL:     "http://localhost:3000",
			Headless:      true,
			MaxPages:      8,
			RenderTimeout: 60 * time.Second,
			LaunchTimeout: 30 * time.Second,
			IdleQuiet:     500 * time.Millisecond,
		},
		Output: OutputConfig{
			Directory: "./output",
			Clean:     true,
		},
		Archive: ArchiveConfig{
			Enabled:   true,
			OnPartial: PartialKeep,
			Manifest:  true,
		},
		Publish: PublishConfig{
			Backend: BackendOSS,
			Prefix:  "calendars",
			OSS: OSSConfig{
				PartSize:        10 * 1024 * 1024, // 10MB
				SignedURLExpiry: 7 * 24 * time.Hour,
				MaxRetries:      3,
				UploadTimeout:   30 * time.Minute,
			},
			S3: S3Config{
				Region:        "us-east-1",
				PresignExpiry: 7 * 24 * time.Hour,
				MaxRetries:    3,
			},
		},
		Report: ReportConfig{
			Enabled: true,
			Formats: []string{"csv", "xlsx"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Archive partial-bundle policies
const (
	PartialKeep = "keep"
	PartialSkip = "skip"
)

// Publish backends
const (
	BackendOSS = "oss"
	BackendS3  = "s3"
)

// Render engines
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// LoadConfig loads configuration from a YAML file. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	set := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	set(&c.Logging.Level, o.LogLevel)
	set(&c.Output.Directory, o.OutputDir)
	set(&c.Renderer.TargetURL, o.TargetURL)
	set(&c.Renderer.RemoteURL, o.BrowserURL)
	set(&c.Renderer.Engine, o.Engine)
	set(&c.Publish.OSS.Endpoint, o.OSSEndpoint)
	set(&c.Publish.OSS.Bucket, o.OSSBucket)
	set(&c.Publish.OSS.AccessKeyID, o.OSSKeyID)
	set(&c.Publish.OSS.AccessKeySecret, o.OSSSecret)
	set(&c.Publish.S3.Endpoint, o.S3Endpoint)
	set(&c.Publish.S3.Region, o.S3Region)
	set(&c.Publish.S3.Bucket, o.S3Bucket)
	set(&c.Publish.S3.AccessKey, o.S3AccessKey)
	set(&c.Publish.S3.SecretKey, o.S3SecretKey)
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Build.validate(); err != nil {
		return err
	}

	switch c.Renderer.Engine {
	case EngineChromedp, EngineRod:
	default:
		return fmt.Errorf("unknown render engine %q", c.Renderer.Engine)
	}
	u, err := url.Parse(c.Renderer.TargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid render target URL %q", c.Renderer.TargetURL)
	}
	if c.Renderer.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Renderer.PagesPerSecond < 0 {
		return fmt.Errorf("pages per second cannot be negative")
	}
	if c.Renderer.RenderTimeout <= 0 {
		return fmt.Errorf("render timeout must be positive")
	}
	if c.Renderer.LaunchTimeout <= 0 {
		return fmt.Errorf("launch timeout must be positive")
	}

	if c.Output.Directory == "" {
		return fmt.Errorf("output directory is required")
	}

	switch c.Archive.OnPartial {
	case PartialKeep, PartialSkip:
	default:
		return fmt.Errorf("unknown partial archive policy %q", c.Archive.OnPartial)
	}

	for _, f := range c.Report.Formats {
		if f != "csv" && f != "xlsx" {
			return fmt.Errorf("unknown report format %q", f)
		}
	}

	if c.Publish.Enabled {
		if !c.Archive.Enabled {
			return fmt.Errorf("publishing requires archiving to be enabled")
		}
		if err := c.Publish.validate(); err != nil {
			return err
		}
	}

	for _, port := range []int{c.Monitoring.MetricsPort, c.Monitoring.StatusPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid monitoring port: %d", port)
		}
	}
	return nil
}

func (b BuildConfig) validate() error {
	if len(b.Years) == 0 {
		return fmt.Errorf("at least one year is required")
	}
	for _, y := range b.Years {
		if y < 1900 || y > 9999 {
			return fmt.Errorf("invalid year %d", y)
		}
	}
	if len(b.Themes) == 0 || len(b.Formats) == 0 || len(b.WeekStarts) == 0 ||
		len(b.CalendarTypes) == 0 || len(b.Orientations) == 0 {
		return fmt.Errorf("themes, formats, week starts, calendar types and orientations must not be empty")
	}
	_, err := b.matrixAxes()
	return err
}

func (p PublishConfig) validate() error {
	switch p.Backend {
	case BackendOSS:
		if p.OSS.Endpoint == "" {
			return fmt.Errorf("OSS endpoint is required")
		}
		if p.OSS.Bucket == "" {
			return fmt.Errorf("OSS bucket is required")
		}
		if p.OSS.AccessKeyID == "" {
			return fmt.Errorf("OSS access key ID is required")
		}
		if p.OSS.AccessKeySecret == "" {
			return fmt.Errorf("OSS access key secret is required")
		}
		if p.OSS.PartSize <= 0 {
			return fmt.Errorf("OSS part size must be positive")
		}
	case BackendS3:
		if p.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if p.S3.AccessKey == "" || p.S3.SecretKey == "" {
			return fmt.Errorf("S3 access key and secret key are required")
		}
	default:
		return fmt.Errorf("unknown publish backend %q", p.Backend)
	}
	return nil
}

// matrixAxes parses everything except locales, which need the catalog
func (b BuildConfig) matrixAxes() (calendar.Matrix, error) {
	m := calendar.Matrix{Years: append([]int(nil), b.Years...)}
	for _, s := range b.Themes {
		t, err := calendar.ParseTheme(s)
		if err != nil {
			return m, err
		}
		m.Themes = append(m.Themes, t)
	}
	for _, s := range b.Formats {
		f, err := calendar.ParseFormat(s)
		if err != nil {
			return m, err
		}
		m.Formats = append(m.Formats, f)
	}
	for _, s := range b.WeekStarts {
		w, err := calendar.ParseWeekStart(s)
		if err != nil {
			return m, err
		}
		m.WeekStarts = append(m.WeekStarts, w)
	}
	for _, s := range b.CalendarTypes {
		ct, err := calendar.ParseCalendarType(s)
		if err != nil {
			return m, err
		}
		m.Types = append(m.Types, ct)
	}
	for _, s := range b.Orientations {
		o, err := calendar.ParseOrientation(s)
		if err != nil {
			return m, err
		}
		m.Orientations = append(m.Orientations, o)
	}
	return m, nil
}

// Matrix resolves the build section against the locale catalog
func (c *Config) Matrix(cat *locales.Catalog) (calendar.Matrix, error) {
	m, err := c.Build.matrixAxes()
	if err != nil {
		return m, err
	}
	m.Locales, err = cat.Select(c.Build.Locales)
	if err != nil {
		return m, err
	}
	return m, nil
}
