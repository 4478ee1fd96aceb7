package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fluxo/calgen/pkg/config"
)

var version = "1.0.0"

// Exit codes
const (
	exitOK          = 0
	exitRunFailed   = 1
	exitConfigError = 2
)

// errRunFailed is returned when a run finished with recorded failures
var errRunFailed = errors.New("generation finished with failures")

// exitError carries the process exit code of a command failure
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func configError(err error) error {
	return &exitError{code: exitConfigError, err: err}
}

func runError(err error) error {
	return &exitError{code: exitRunFailed, err: err}
}

// exitCode maps a command error to the process exit code
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// flag and argument errors from cobra
	return exitConfigError
}

// rootOptions holds the persistent flags. Only flags set on the command line
// override the loaded configuration.
type rootOptions struct {
	configPath string
	years      []int
	formats    []string
	themes     []string
	locales    []string
	engine     string
	output     string
	target     string
	maxPages   int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "calgen",
		Short: "Batch calendar PDF and preview generator",
		Long: `calgen renders every combination of year, theme, paper format, locale,
week start, calendar type and orientation through a headless browser into
PDFs and PNG previews, then packages each (theme, year, format) into a zip bundle.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	flags.IntSliceVar(&opts.years, "year", nil, "Years to render (repeatable)")
	flags.StringSliceVar(&opts.formats, "format", nil, "Paper formats: a4, a5")
	flags.StringSliceVar(&opts.themes, "theme", nil, "Themes to render")
	flags.StringSliceVar(&opts.locales, "locale", nil, "Locale codes (default: whole catalog)")
	flags.StringVar(&opts.engine, "engine", "", "Render engine: chromedp or rod")
	flags.StringVar(&opts.output, "output", "", "Output directory")
	flags.StringVar(&opts.target, "target", "", "Base URL of the render target")
	flags.IntVar(&opts.maxPages, "max-pages", 0, "Pages rendered concurrently per session")

	root.AddCommand(
		newGenerateCmd(opts),
		newPlanCmd(opts),
		newArchiveCmd(opts),
		newLocalesCmd(),
		newStatusCmd(),
	)
	return root
}

// loadConfig reads the config file, applies flag overrides and validates the result
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, configError(fmt.Errorf("failed to load configuration: %w", err))
	}

	flags := cmd.Flags()
	if flags.Changed("year") {
		cfg.Build.Years = o.years
	}
	if flags.Changed("format") {
		cfg.Build.Formats = o.formats
	}
	if flags.Changed("theme") {
		cfg.Build.Themes = o.themes
	}
	if flags.Changed("locale") {
		cfg.Build.Locales = o.locales
	}
	if flags.Changed("engine") {
		cfg.Renderer.Engine = o.engine
	}
	if flags.Changed("output") {
		cfg.Output.Directory = o.output
	}
	if flags.Changed("target") {
		cfg.Renderer.TargetURL = o.target
	}
	if flags.Changed("max-pages") {
		cfg.Renderer.MaxPages = o.maxPages
	}

	if err := cfg.Validate(); err != nil {
		return nil, configError(fmt.Errorf("invalid configuration: %w", err))
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
