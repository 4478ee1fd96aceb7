package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fluxo/calgen/pkg/archive"
	"github.com/fluxo/calgen/pkg/calendar"
	"github.com/fluxo/calgen/pkg/config"
	"github.com/fluxo/calgen/pkg/locales"
	"github.com/fluxo/calgen/pkg/logger"
	"github.com/fluxo/calgen/pkg/metrics"
	"github.com/fluxo/calgen/pkg/publish"
	"github.com/fluxo/calgen/pkg/render"
	"github.com/fluxo/calgen/pkg/render/rendertest"
	"github.com/fluxo/calgen/pkg/report"
	"github.com/fluxo/calgen/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Renderer.MaxPages = 4
	cfg.Renderer.RenderTimeout = 5 * time.Second
	cfg.Report.Formats = []string{"csv"}
	return cfg
}

func testMatrix(t *testing.T, years []int, formats ...calendar.Format) calendar.Matrix {
	t.Helper()
	cat, err := locales.Default()
	require.NoError(t, err)
	en, ok := cat.Lookup("en")
	require.True(t, ok)

	if len(formats) == 0 {
		formats = []calendar.Format{calendar.FormatA4}
	}
	return calendar.Matrix{
		Years:        years,
		Themes:       []calendar.Theme{calendar.ThemeSimple},
		Formats:      formats,
		Locales:      []calendar.Locale{en},
		WeekStarts:   calendar.WeekStarts(),
		Types:        calendar.CalendarTypes(),
		Orientations: calendar.Orientations(),
	}
}

type fixture struct {
	engine  *rendertest.Engine
	store   *storage.Manager
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewManager(t.TempDir(), logger.NewNop())
	require.NoError(t, err)
	return &fixture{engine: rendertest.New(), store: store, metrics: metrics.New()}
}

func (f *fixture) driver(cfg *config.Config, m calendar.Matrix, pub publish.Publisher) *Driver {
	return NewDriver(cfg, m, Deps{
		Engine:    f.engine,
		Storage:   f.store,
		Publisher: pub,
		Metrics:   f.metrics,
		Logger:    logger.NewNop(),
	})
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	names := make([]string, len(r.File))
	for i, f := range r.File {
		names[i] = f.Name
	}
	return names
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t)
	m := testMatrix(t, []int{2026})
	d := f.driver(testConfig(), m, nil)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	// 4 monthly dimensions of 12 pages plus 4 yearly pages
	assert.Equal(t, 52, summary.RendersTotal)
	assert.Equal(t, 52, summary.RendersSucceeded)
	assert.Equal(t, 1, summary.ArchivesComplete)
	assert.False(t, summary.Failed())
	assert.Equal(t, report.StateDone, summary.State)

	// one session, every page and browser handle released
	assert.Equal(t, 1, f.engine.Launches())
	assert.Zero(t, f.engine.OpenBrowsers())
	assert.Zero(t, f.engine.OpenPages())
	assert.LessOrEqual(t, f.engine.MaxConcurrentPages(), 4)
	assert.Zero(t, testutil.ToFloat64(f.metrics.OpenPages))

	// 2 week starts x 2 types x 2 orientations distinct leaves
	formatDir := storage.FormatDir(f.store.BaseDir(), calendar.ThemeSimple, 2026, calendar.FormatA4)
	leaves := map[string]bool{}
	require.NoError(t, filepath.WalkDir(formatDir, func(path string, de os.DirEntry, err error) error {
		require.NoError(t, err)
		if !de.IsDir() && strings.HasSuffix(path, ".pdf") {
			leaves[filepath.Dir(path)] = true
		}
		return nil
	}))
	assert.Len(t, leaves, 8)
	for leaf := range leaves {
		assert.True(t, strings.HasPrefix(leaf, filepath.Join(formatDir, "en")+string(filepath.Separator)), leaf)
	}

	bundle := storage.BundlePath(f.store.BaseDir(), calendar.ThemeSimple, 2026, calendar.FormatA4)
	names := zipNames(t, bundle)
	assert.Len(t, names, 104)
	assert.Contains(t, names, "en/monday-start/monthly/pdf/landscape/09-September.pdf")
	assert.Contains(t, names, "en/sunday-start/yearly/preview/portrait/calendar.png")

	reportDir := report.Dir(f.store.BaseDir(), d.Collector().RunID())
	assert.FileExists(t, filepath.Join(reportDir, "summary.json"))
	assert.FileExists(t, filepath.Join(reportDir, "renders.csv"))
}

func TestRun_QueuedPagesDoNotTimeOut(t *testing.T) {
	f := newFixture(t)
	f.engine.Delay = 20 * time.Millisecond
	cfg := testConfig()
	cfg.Renderer.MaxPages = 1
	// far below the ~1s the 52 serialized pages need in total
	cfg.Renderer.RenderTimeout = 200 * time.Millisecond
	d := f.driver(cfg, testMatrix(t, []int{2026}), nil)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 52, summary.RendersSucceeded)
	assert.Zero(t, summary.RendersFailed)
	assert.Equal(t, 1, summary.ArchivesComplete)

	var longestWait time.Duration
	for _, r := range d.Collector().Renders() {
		assert.Less(t, r.Duration, cfg.Renderer.RenderTimeout, r.Job.Key())
		longestWait = max(longestWait, r.QueueWait)
	}
	assert.Greater(t, longestWait, cfg.Renderer.RenderTimeout, "queue time is reported apart from render time")
}

func TestRun_PartialFailures(t *testing.T) {
	f := newFixture(t)
	f.engine.NavigateErr = func(url string) error {
		if strings.Contains(url, "month=2&") {
			return errors.New("net::ERR_CONNECTION_RESET")
		}
		return nil
	}
	d := f.driver(testConfig(), testMatrix(t, []int{2026}), nil)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 48, summary.RendersSucceeded)
	assert.Equal(t, 4, summary.RendersFailed)
	assert.Equal(t, 1, summary.ArchivesPartial)
	assert.True(t, summary.Failed())

	for _, r := range d.Collector().Renders() {
		if !r.Succeeded() {
			assert.Equal(t, 2, r.Job.Month)
			assert.Equal(t, render.ErrCodeNavigationFailed, r.ErrorCode)
		}
	}

	archives := d.Collector().Archives()
	require.Len(t, archives, 1)
	assert.Len(t, archives[0].Missing, 8)
	assert.Len(t, zipNames(t, archives[0].Path), 96)
	assert.Zero(t, f.engine.OpenPages())
}

func TestRun_PartialSkipPolicy(t *testing.T) {
	f := newFixture(t)
	f.engine.NavigateErr = func(url string) error {
		if strings.Contains(url, "/year?") {
			return errors.New("500")
		}
		return nil
	}
	cfg := testConfig()
	cfg.Archive.OnPartial = config.PartialSkip
	d := f.driver(cfg, testMatrix(t, []int{2026}), nil)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ArchivesFailed)
	assert.NoFileExists(t, storage.BundlePath(f.store.BaseDir(), calendar.ThemeSimple, 2026, calendar.FormatA4))
}

func TestRun_LaunchFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.LaunchErr = errors.New("chrome not found")
	d := f.driver(testConfig(), testMatrix(t, []int{2026, 2027}), nil)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.engine.Launches())
	assert.Equal(t, 2, summary.SessionsFailed)
	assert.Equal(t, 104, summary.RendersFailed)
	assert.Zero(t, summary.ArchivesComplete+summary.ArchivesPartial+summary.ArchivesFailed)

	for _, r := range d.Collector().Renders() {
		assert.Equal(t, render.ErrCodeLaunchFailed, r.ErrorCode)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SessionsTotal.WithLabelValues("launch_failed")))
}

func TestRun_LaunchFailureLeavesNoPreviousBundle(t *testing.T) {
	f := newFixture(t)
	base := f.store.BaseDir()
	bundle := storage.BundlePath(base, calendar.ThemeSimple, 2026, calendar.FormatA4)
	otherYear := storage.BundlePath(base, calendar.ThemeSimple, 2030, calendar.FormatA4)
	require.NoError(t, os.MkdirAll(filepath.Dir(bundle), 0o755))
	for _, p := range []string{bundle, storage.ManifestPath(bundle), otherYear} {
		require.NoError(t, os.WriteFile(p, []byte("previous run"), 0o644))
	}

	f.engine.LaunchErr = errors.New("chrome not found")
	cfg := testConfig()
	cfg.Output.Clean = true
	d := f.driver(cfg, testMatrix(t, []int{2026}), nil)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SessionsFailed)

	assert.NoFileExists(t, bundle)
	assert.NoFileExists(t, storage.ManifestPath(bundle))
	assert.FileExists(t, otherYear, "years outside the run are untouched")
}

func TestRun_OneSessionPerYear(t *testing.T) {
	f := newFixture(t)
	m := testMatrix(t, []int{2026, 2027}, calendar.FormatA4, calendar.FormatA5)
	d := f.driver(testConfig(), m, nil)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.engine.Launches())
	assert.Equal(t, 1, f.engine.MaxOpenBrowsers())
	assert.Equal(t, 4, summary.ArchivesComplete)

	for _, year := range []int{2026, 2027} {
		for _, format := range m.Formats {
			assert.FileExists(t, storage.BundlePath(f.store.BaseDir(), calendar.ThemeSimple, year, format))
		}
	}
}

func TestRun_CleanStartsFresh(t *testing.T) {
	f := newFixture(t)
	yearDir := storage.YearDir(f.store.BaseDir(), calendar.ThemeSimple, 2026)
	stale := filepath.Join(yearDir, "a4", "old-schema", "calendar.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	d := f.driver(testConfig(), testMatrix(t, []int{2026}), nil)
	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.Equal(t, 1, summary.ArchivesComplete)
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := f.driver(testConfig(), testMatrix(t, []int{2026}), nil)
	_, err := d.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.engine.Launches())
}

type fakePublisher struct {
	mu      sync.Mutex
	bundles []publish.Bundle
	err     error
}

func (p *fakePublisher) Name() string { return "fake" }

func (p *fakePublisher) Publish(_ context.Context, b publish.Bundle) (*publish.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bundles = append(p.bundles, b)
	if p.err != nil {
		return nil, p.err
	}
	return &publish.Result{Backend: "fake", ObjectKey: publish.ObjectKey("cal", b), SignedURL: "https://x/" + filepath.Base(b.Path)}, nil
}

func TestRun_Publishes(t *testing.T) {
	f := newFixture(t)
	pub := &fakePublisher{}
	d := f.driver(testConfig(), testMatrix(t, []int{2026}), pub)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.UploadsSucceeded)
	require.Len(t, pub.bundles, 1)
	assert.Equal(t, 2026, pub.bundles[0].Year)

	uploads := d.Collector().Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "cal/simple/2026/simple-2026-a4.zip", uploads[0].ObjectKey)
}

func TestRun_PublishFailureRecorded(t *testing.T) {
	f := newFixture(t)
	pub := &fakePublisher{err: errors.New("access denied")}
	d := f.driver(testConfig(), testMatrix(t, []int{2026}), pub)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.UploadsFailed)
	assert.Equal(t, 52, summary.RendersSucceeded)
	assert.True(t, summary.Failed())
}

func TestArchiveOnly(t *testing.T) {
	f := newFixture(t)
	m := testMatrix(t, []int{2026})

	cfg := testConfig()
	cfg.Archive.Enabled = false
	cfg.Report.Enabled = false
	_, err := f.driver(cfg, m, nil).Run(context.Background())
	require.NoError(t, err)
	bundle := storage.BundlePath(f.store.BaseDir(), calendar.ThemeSimple, 2026, calendar.FormatA4)
	assert.NoFileExists(t, bundle)

	d := f.driver(testConfig(), m, nil)
	summary, err := d.ArchiveOnly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ArchivesComplete)
	assert.Len(t, zipNames(t, bundle), 104)
	assert.FileExists(t, archive.Job{DestPath: bundle}.ManifestPath())
}
