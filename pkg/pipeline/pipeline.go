// Package pipeline drives a generation run: per theme and year it opens one
// render session, fans out the page renders of each format, archives the
// format once its renders are done and closes the session after the year.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fluxo/calgen/pkg/archive"
	"github.com/fluxo/calgen/pkg/calendar"
	"github.com/fluxo/calgen/pkg/config"
	"github.com/fluxo/calgen/pkg/logger"
	"github.com/fluxo/calgen/pkg/metrics"
	"github.com/fluxo/calgen/pkg/publish"
	"github.com/fluxo/calgen/pkg/render"
	"github.com/fluxo/calgen/pkg/report"
	"github.com/fluxo/calgen/pkg/session"
	"github.com/fluxo/calgen/pkg/storage"
)

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.New().String()
}

// Deps are the collaborators of a Driver
type Deps struct {
	Engine  render.Engine
	Storage *storage.Manager
	// Publisher uploads finished bundles; nil disables publishing
	Publisher publish.Publisher
	// Collector receives every result; nil creates one with a new run id
	Collector *report.Collector
	// Metrics is optional
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// Driver sequences sessions, renders and archives for a build matrix
type Driver struct {
	config    *config.Config
	matrix    calendar.Matrix
	storage   *storage.Manager
	sessions  *session.Manager
	client    *render.Client
	archiver  *archive.Archiver
	publisher publish.Publisher
	collector *report.Collector
	metrics   *metrics.Metrics
	log       *logger.ContextLogger
}

// NewDriver creates a pipeline driver
func NewDriver(cfg *config.Config, matrix calendar.Matrix, deps Deps) *Driver {
	collector := deps.Collector
	if collector == nil {
		collector = report.NewCollector(NewRunID())
	}
	log := deps.Logger.WithContext(context.Background()).WithRunID(collector.RunID())

	sessCfg := session.Config{
		MaxPages:       cfg.Renderer.MaxPages,
		PagesPerSecond: cfg.Renderer.PagesPerSecond,
	}
	if deps.Metrics != nil {
		sessCfg.Observer = deps.Metrics
	}

	client := render.NewClient(render.ClientConfig{
		TargetURL:     cfg.Renderer.TargetURL,
		RenderTimeout: cfg.Renderer.RenderTimeout,
	}, deps.Storage, log)
	archiver := archive.New(archive.Options{
		OnPartial: cfg.Archive.OnPartial,
		Manifest:  cfg.Archive.Manifest,
	}, deps.Storage, log)

	return &Driver{
		config:    cfg,
		matrix:    matrix,
		storage:   deps.Storage,
		sessions:  session.NewManager(deps.Engine, sessCfg, log),
		client:    client,
		archiver:  archiver,
		publisher: deps.Publisher,
		collector: collector,
		metrics:   deps.Metrics,
		log:       log.WithComponent("pipeline"),
	}
}

// Collector returns the collector results are recorded in
func (d *Driver) Collector() *report.Collector {
	return d.collector
}

// Run renders the whole matrix. Page, archive and upload failures are recorded
// and never stop the batch; the returned error is only set when ctx ends or
// the report cannot be written.
func (d *Driver) Run(ctx context.Context) (report.Summary, error) {
	start := time.Now()
	d.collector.Start()

	d.log.LogRunStarted("Generation run started", logger.Fields{
		"themes":     len(d.matrix.Themes),
		"years":      len(d.matrix.Years),
		"formats":    len(d.matrix.Formats),
		"locales":    len(d.matrix.Locales),
		"dimensions": d.matrix.Size(),
		"pages":      d.matrix.PageCount(),
	})

	for _, theme := range d.matrix.Themes {
		for _, year := range d.matrix.Years {
			if ctx.Err() != nil {
				break
			}
			d.runYear(ctx, theme, year)
		}
	}

	return d.finish(ctx, start)
}

// ArchiveOnly re-archives (and publishes) every format scope of the matrix
// from an existing output tree without rendering.
func (d *Driver) ArchiveOnly(ctx context.Context) (report.Summary, error) {
	start := time.Now()
	d.collector.Start()
	d.log.LogRunStarted("Archive run started", logger.Fields{
		"scopes": len(d.matrix.Themes) * len(d.matrix.Years) * len(d.matrix.Formats),
	})

	for _, theme := range d.matrix.Themes {
		for _, year := range d.matrix.Years {
			for _, format := range d.matrix.Formats {
				if ctx.Err() != nil {
					return d.finish(ctx, start)
				}
				d.archiveFormat(ctx, theme, year, format)
			}
		}
	}
	return d.finish(ctx, start)
}

func (d *Driver) finish(ctx context.Context, start time.Time) (report.Summary, error) {
	d.collector.Finish()
	summary := d.collector.Summary()

	if d.config.Report.Enabled {
		dir := report.Dir(d.storage.BaseDir(), d.collector.RunID())
		if _, err := report.Write(ctx, d.collector, dir, d.config.Report.Formats, d.log); err != nil {
			d.log.LogError("ReportWriteFailed", "Run report not written", "REPORT_ERROR", err.Error(), nil)
			return summary, fmt.Errorf("failed to write run report: %w", err)
		}
	}

	d.log.LogRunCompleted("Generation run finished", time.Since(start), logger.Fields{
		"renders_succeeded": summary.RendersSucceeded,
		"renders_failed":    summary.RendersFailed,
		"archives_complete": summary.ArchivesComplete,
		"archives_partial":  summary.ArchivesPartial,
		"archives_failed":   summary.ArchivesFailed,
		"uploads_failed":    summary.UploadsFailed,
		"sessions_failed":   summary.SessionsFailed,
	})
	return summary, ctx.Err()
}

// runYear is one outer batch unit: fresh year directory, one session, every
// format rendered then archived, session closed.
func (d *Driver) runYear(ctx context.Context, theme calendar.Theme, year int) {
	sessionID := fmt.Sprintf("%s-%d", theme, year)
	log := d.log.WithSessionID(sessionID)

	if d.config.Output.Clean {
		if err := d.resetYear(theme, year); err != nil {
			log.LogError("YearResetFailed", "Year output directory could not be recreated",
				render.ErrCodeWriteFailed, err.Error(), nil)
			d.failYear(theme, year, render.NewRenderError(render.ErrCodeWriteFailed, "cannot reset year directory", err))
			return
		}
	}

	sess, err := d.sessions.Open(ctx, sessionID)
	if d.metrics != nil {
		d.metrics.ObserveSession(err)
	}
	if err != nil {
		d.collector.AddSessionFailure(report.SessionFailure{
			SessionID: sessionID,
			ErrorCode: render.ErrCodeLaunchFailed,
			Error:     err.Error(),
		})
		d.failYear(theme, year, err)
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.LogWarn("SessionCloseFailed", "Browser did not shut down cleanly", logger.Fields{"error": err.Error()})
		}
	}()

	for _, format := range d.matrix.Formats {
		if ctx.Err() != nil {
			return
		}
		d.renderFormat(ctx, sess, theme, year, format)
		if d.config.Archive.Enabled {
			d.archiveFormat(ctx, theme, year, format)
		}
	}
}

// resetYear recreates the year's output tree and drops the year's bundles and
// manifests, so dist/ never serves a previous run's output for this year.
func (d *Driver) resetYear(theme calendar.Theme, year int) error {
	base := d.storage.BaseDir()
	if err := d.storage.ResetDir(storage.YearDir(base, theme, year)); err != nil {
		return err
	}
	var stale []string
	for _, format := range d.matrix.Formats {
		bundle := storage.BundlePath(base, theme, year, format)
		stale = append(stale, bundle, storage.ManifestPath(bundle))
	}
	removed, err := d.storage.RemoveFiles(stale...)
	if removed > 0 {
		d.log.LogInfo("StaleBundlesRemoved", "Previous bundles of year removed", logger.Fields{
			"theme":   theme,
			"year":    year,
			"removed": removed,
		})
	}
	return err
}

// renderFormat fans out every page job of a (theme, year, format) scope and
// waits for all of them. Page concurrency is bounded by the session.
func (d *Driver) renderFormat(ctx context.Context, sess *session.Session, theme calendar.Theme, year int, format calendar.Format) {
	var g errgroup.Group
	jobs := 0
	for dim := range d.matrix.Scope(theme, year, format) {
		for _, job := range render.Jobs(dim) {
			jobs++
			g.Go(func() error {
				d.record(d.client.Render(ctx, sess, job))
				return nil
			})
		}
	}
	_ = g.Wait()

	d.log.LogInfo("FormatRendered", "All renders of format finished", logger.Fields{
		"theme":  theme,
		"year":   year,
		"format": format,
		"jobs":   jobs,
	})

	if _, err := d.storage.CleanupTemp(storage.FormatDir(d.storage.BaseDir(), theme, year, format)); err != nil {
		d.log.LogWarn("TempCleanupFailed", "Temporary files could not be removed", logger.Fields{"error": err.Error()})
	}
}

// archiveFormat bundles a finished format scope and publishes the bundle
func (d *Driver) archiveFormat(ctx context.Context, theme calendar.Theme, year int, format calendar.Format) {
	base := d.storage.BaseDir()
	job := archive.Job{
		Name:      storage.BundleName(theme, year, format),
		SourceDir: storage.FormatDir(base, theme, year, format),
		DestPath:  storage.BundlePath(base, theme, year, format),
	}
	expected, err := storage.ScopeFiles(base, d.matrix.Scope(theme, year, format))
	if err != nil {
		d.log.LogWarn("ExpectedFilesUnknown", "Bundle completeness cannot be checked", logger.Fields{"error": err.Error()})
	}
	job.Expected = expected

	res, err := d.archiver.Archive(ctx, job)
	d.collector.AddArchive(res)
	if d.metrics != nil {
		d.metrics.ObserveArchive(res)
	}
	if err != nil || d.publisher == nil {
		return
	}

	d.publishBundle(ctx, job.Name, publish.Bundle{Path: res.Path, Theme: theme, Year: year})
}

func (d *Driver) publishBundle(ctx context.Context, name string, b publish.Bundle) {
	upload := report.Upload{Bundle: name, Backend: d.publisher.Name()}

	res, err := d.publisher.Publish(ctx, b)
	if err != nil {
		upload.Error = err.Error()
	} else {
		upload.ObjectKey = res.ObjectKey
		upload.SignedURL = res.SignedURL
		upload.Size = res.Size
		upload.Duration = res.UploadTime
	}

	d.collector.AddUpload(upload)
	if d.metrics != nil {
		d.metrics.ObserveUpload(d.publisher.Name(), err)
	}
}

// failYear records every page job of a year as failed with err
func (d *Driver) failYear(theme calendar.Theme, year int, err error) {
	code := render.ErrCodeLaunchFailed
	var re *render.RenderError
	if errors.As(err, &re) {
		code = re.Code
	}
	for _, format := range d.matrix.Formats {
		for dim := range d.matrix.Scope(theme, year, format) {
			for _, job := range render.Jobs(dim) {
				d.record(render.Result{
					Job:       job,
					Status:    render.StatusFailed,
					ErrorCode: code,
					Error:     err.Error(),
				})
			}
		}
	}
}

func (d *Driver) record(res render.Result) {
	d.collector.AddRender(res)
	if d.metrics != nil {
		d.metrics.ObserveRender(res)
	}
}
