package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/fluxo/calgen/pkg/calendar"
	"github.com/fluxo/calgen/pkg/config"
	grpcserver "github.com/fluxo/calgen/pkg/grpc"
	"github.com/fluxo/calgen/pkg/locales"
	"github.com/fluxo/calgen/pkg/logger"
	"github.com/fluxo/calgen/pkg/metrics"
	"github.com/fluxo/calgen/pkg/pipeline"
	"github.com/fluxo/calgen/pkg/publish"
	"github.com/fluxo/calgen/pkg/render"
	"github.com/fluxo/calgen/pkg/report"
	"github.com/fluxo/calgen/pkg/storage"
)

const shutdownTimeout = 30 * time.Second

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Render, archive and optionally publish the whole build matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts, false)
		},
	}
}

func newArchiveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Re-archive an existing output tree without rendering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts, true)
		},
	}
}

func newPlanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "List the output directories and job counts without rendering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, matrix, err := loadMatrix(cmd, opts)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), cfg.Output.Directory, matrix)
		},
	}
}

func newLocalesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locales",
		Short: "Print the locale catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := locales.Default()
			if err != nil {
				return configError(err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tCALENDAR\tNUMBERING\tJANUARY")
			for _, l := range cat.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", l.Code, l.EnglishName, l.CalendarSystem, l.NumberingSystem, l.Months[0])
			}
			return w.Flush()
		},
	}
}

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the status server of a running generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return configError(err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			snap, err := grpcserver.GetStatus(ctx, conn)
			if err != nil {
				return runError(fmt.Errorf("status query failed: %w", err))
			}
			out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(snap)
			if err != nil {
				return runError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:9091", "Status server address")
	return cmd
}

func loadMatrix(cmd *cobra.Command, opts *rootOptions) (*config.Config, calendar.Matrix, error) {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return nil, calendar.Matrix{}, err
	}
	cat, err := locales.Default()
	if err != nil {
		return nil, calendar.Matrix{}, configError(err)
	}
	matrix, err := cfg.Matrix(cat)
	if err != nil {
		return nil, calendar.Matrix{}, configError(fmt.Errorf("invalid build matrix: %w", err))
	}
	return cfg, matrix, nil
}

func printPlan(w io.Writer, base string, matrix calendar.Matrix) error {
	for dim := range matrix.All() {
		paths, err := storage.Plan(base, dim)
		if err != nil {
			return configError(err)
		}
		fmt.Fprintf(w, "%s\t%d pages\n", paths.PDFDir, len(dim.Months()))
		fmt.Fprintf(w, "%s\n", paths.PreviewDir)
	}
	for _, theme := range matrix.Themes {
		for _, year := range matrix.Years {
			for _, format := range matrix.Formats {
				fmt.Fprintln(w, storage.BundlePath(base, theme, year, format))
			}
		}
	}
	fmt.Fprintf(w, "dimensions: %d\npages: %d\nsessions: %d\nbundles: %d\n",
		matrix.Size(),
		matrix.PageCount(),
		len(matrix.Themes)*len(matrix.Years),
		len(matrix.Themes)*len(matrix.Years)*len(matrix.Formats),
	)
	return nil
}

// runPipeline wires every component for a generate or archive run
func runPipeline(cmd *cobra.Command, opts *rootOptions, archiveOnly bool) error {
	ctx := cmd.Context()

	cfg, matrix, err := loadMatrix(cmd, opts)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.EnableTracing)
	if err != nil {
		return configError(fmt.Errorf("failed to initialize logger: %w", err))
	}
	defer log.Sync()

	log.Info(fmt.Sprintf("Starting calgen v%s", version))
	log.Info("Configuration loaded successfully", logger.Fields{
		"engine":       cfg.Renderer.Engine,
		"target_url":   cfg.Renderer.TargetURL,
		"output":       cfg.Output.Directory,
		"max_pages":    cfg.Renderer.MaxPages,
		"dimensions":   matrix.Size(),
		"pages":        matrix.PageCount(),
		"publish":      cfg.Publish.Enabled,
		"metrics_port": cfg.Monitoring.MetricsPort,
		"status_port":  cfg.Monitoring.StatusPort,
	})

	store, err := storage.NewManager(cfg.Output.Directory, log)
	if err != nil {
		return runError(fmt.Errorf("failed to initialize storage manager: %w", err))
	}

	var engine render.Engine
	if !archiveOnly {
		engine, err = render.NewEngine(cfg.Renderer.Engine, render.Options{
			RemoteURL:     cfg.Renderer.RemoteURL,
			BrowserPath:   cfg.Renderer.BrowserPath,
			Headless:      cfg.Renderer.Headless,
			NoSandbox:     cfg.Renderer.NoSandbox,
			LaunchTimeout: cfg.Renderer.LaunchTimeout,
			IdleQuiet:     cfg.Renderer.IdleQuiet,
			Logger:        log,
		})
		if err != nil {
			return configError(err)
		}
	}

	var publisher publish.Publisher
	if cfg.Publish.Enabled {
		publisher, err = publish.New(ctx, cfg.Publish, log)
		if err != nil {
			return configError(fmt.Errorf("failed to initialize publisher: %w", err))
		}
		log.Info("Publisher initialized", logger.Fields{"backend": publisher.Name()})
	}

	collector := report.NewCollector(pipeline.NewRunID())
	m := metrics.New()

	if cfg.Monitoring.MetricsPort > 0 {
		ms := metrics.NewServer(fmt.Sprintf(":%d", cfg.Monitoring.MetricsPort), m, log)
		if err := ms.Start(); err != nil {
			return runError(fmt.Errorf("failed to start metrics server: %w", err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := ms.Stop(shutdownCtx); err != nil {
				log.Error("Error stopping metrics server", logger.Fields{"error": err.Error()})
			}
		}()
	}

	var status *grpcserver.Server
	if cfg.Monitoring.StatusPort > 0 {
		status = grpcserver.NewServer(cfg.Monitoring.StatusPort, collector, log)
		if err := status.Start(); err != nil {
			return runError(fmt.Errorf("failed to start status server: %w", err))
		}
		defer status.Stop()
		status.SetServing(true)
	}

	driver := pipeline.NewDriver(cfg, matrix, pipeline.Deps{
		Engine:    engine,
		Storage:   store,
		Publisher: publisher,
		Collector: collector,
		Metrics:   m,
		Logger:    log,
	})

	var summary report.Summary
	if archiveOnly {
		summary, err = driver.ArchiveOnly(ctx)
	} else {
		summary, err = driver.Run(ctx)
	}
	if status != nil {
		status.SetServing(false)
	}

	printSummary(cmd.OutOrStdout(), summary, report.Dir(store.BaseDir(), summary.RunID), cfg.Report.Enabled)

	if err != nil {
		if ctx.Err() != nil {
			log.Info("Shutdown signal received, run interrupted")
		}
		return runError(err)
	}
	if summary.Failed() {
		return runError(errRunFailed)
	}
	return nil
}

func printSummary(w io.Writer, s report.Summary, reportDir string, reportWritten bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", s.RunID)
	fmt.Fprintf(tw, "renders\t%d succeeded, %d failed\n", s.RendersSucceeded, s.RendersFailed)
	fmt.Fprintf(tw, "archives\t%d complete, %d partial, %d failed\n", s.ArchivesComplete, s.ArchivesPartial, s.ArchivesFailed)
	if s.UploadsSucceeded+s.UploadsFailed > 0 {
		fmt.Fprintf(tw, "uploads\t%d succeeded, %d failed\n", s.UploadsSucceeded, s.UploadsFailed)
	}
	if s.SessionsFailed > 0 {
		fmt.Fprintf(tw, "sessions\t%d failed to launch\n", s.SessionsFailed)
	}
	if reportWritten {
		fmt.Fprintf(tw, "report\t%s\n", reportDir)
	}
	tw.Flush()
}
