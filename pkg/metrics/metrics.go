// Package metrics exposes Prometheus metrics of a generation run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxo/calgen/pkg/archive"
	"github.com/fluxo/calgen/pkg/render"
)

// Artifact kinds for the bytes counter
const (
	KindPDF     = "pdf"
	KindPreview = "preview"
	KindBundle  = "bundle"
)

// Metrics holds the generator collectors on an isolated registry so tests can
// create as many instances as they need.
type Metrics struct {
	Registry *prometheus.Registry

	RendersTotal          *prometheus.CounterVec
	RenderDurationSeconds *prometheus.HistogramVec
	PageWaitSeconds       *prometheus.HistogramVec
	ArtifactBytesTotal    *prometheus.CounterVec
	ArchivesTotal         *prometheus.CounterVec
	UploadsTotal          *prometheus.CounterVec
	SessionsTotal         *prometheus.CounterVec
	OpenPages             prometheus.Gauge
}

// New creates a Metrics instance with all collectors registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calgen_renders_total",
				Help: "Total page renders by result.",
			},
			[]string{"result", "format", "type"},
		),
		RenderDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "calgen_render_duration_seconds",
				Help:    "Duration of page work in seconds, excluding the wait for a page slot.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
			},
			[]string{"format", "type"},
		),
		PageWaitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "calgen_page_wait_seconds",
				Help:    "Time page renders spent queued for a page slot in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms to ~3m
			},
			[]string{"format"},
		),
		ArtifactBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calgen_artifact_bytes_total",
				Help: "Total bytes written by artifact kind.",
			},
			[]string{"kind"},
		),
		ArchivesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calgen_archives_total",
				Help: "Total archive jobs by result (complete, partial, failed).",
			},
			[]string{"result"},
		),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calgen_uploads_total",
				Help: "Total bundle uploads by backend and result.",
			},
			[]string{"backend", "result"},
		),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calgen_sessions_total",
				Help: "Total render sessions by result.",
			},
			[]string{"result"},
		),
		OpenPages: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "calgen_open_pages",
				Help: "Number of currently open browser pages.",
			},
		),
	}

	reg.MustRegister(
		m.RendersTotal,
		m.RenderDurationSeconds,
		m.PageWaitSeconds,
		m.ArtifactBytesTotal,
		m.ArchivesTotal,
		m.UploadsTotal,
		m.SessionsTotal,
		m.OpenPages,
	)
	return m
}

// PageOpened implements session.Observer
func (m *Metrics) PageOpened() {
	m.OpenPages.Inc()
}

// PageClosed implements session.Observer
func (m *Metrics) PageClosed() {
	m.OpenPages.Dec()
}

// ObserveRender records one page render
func (m *Metrics) ObserveRender(r render.Result) {
	format := string(r.Job.Dimension.Format)
	ct := string(r.Job.Dimension.CalendarType)

	m.RendersTotal.WithLabelValues(string(r.Status), format, ct).Inc()
	m.PageWaitSeconds.WithLabelValues(format).Observe(r.QueueWait.Seconds())
	if !r.Succeeded() {
		return
	}
	m.RenderDurationSeconds.WithLabelValues(format, ct).Observe(r.Duration.Seconds())
	m.ArtifactBytesTotal.WithLabelValues(KindPDF).Add(float64(r.PDFBytes))
	m.ArtifactBytesTotal.WithLabelValues(KindPreview).Add(float64(r.PreviewBytes))
}

// ObserveArchive records one archive job
func (m *Metrics) ObserveArchive(r *archive.Result) {
	switch {
	case r.ErrorCode != "":
		m.ArchivesTotal.WithLabelValues("failed").Inc()
		return
	case r.Complete:
		m.ArchivesTotal.WithLabelValues("complete").Inc()
	default:
		m.ArchivesTotal.WithLabelValues("partial").Inc()
	}
	m.ArtifactBytesTotal.WithLabelValues(KindBundle).Add(float64(r.Bytes))
}

// ObserveUpload records one bundle upload
func (m *Metrics) ObserveUpload(backend string, err error) {
	result := "succeeded"
	if err != nil {
		result = "failed"
	}
	m.UploadsTotal.WithLabelValues(backend, result).Inc()
}

// ObserveSession records a session open attempt
func (m *Metrics) ObserveSession(err error) {
	result := "opened"
	if err != nil {
		result = "launch_failed"
	}
	m.SessionsTotal.WithLabelValues(result).Inc()
}
