package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"

	"github.com/fluxo/calgen/pkg/logger"
	"github.com/fluxo/calgen/pkg/writer"
)

const (
	reportsDir  = "reports"
	summaryFile = "summary.json"
	ledgerName  = "renders"
)

var ledgerColumns = []writer.Column{
	{Name: "job", Width: 64},
	{Name: "theme"},
	{Name: "year"},
	{Name: "format"},
	{Name: "locale"},
	{Name: "week_start", Width: 14},
	{Name: "type"},
	{Name: "orientation", Width: 12},
	{Name: "month"},
	{Name: "status"},
	{Name: "pdf_path", Width: 80},
	{Name: "preview_path", Width: 80},
	{Name: "pdf_bytes"},
	{Name: "preview_bytes"},
	{Name: "duration_ms"},
	{Name: "error_code", Width: 20},
	{Name: "error", Width: 60},
	{Name: "queue_ms"},
}

// Dir returns the report directory of a run
func Dir(base, runID string) string {
	return filepath.Join(base, reportsDir, runID)
}

// Write stores summary.json and one ledger per requested format ("csv",
// "xlsx") under dir. It returns the written file paths.
func Write(ctx context.Context, c *Collector, dir string, formats []string, log *logger.ContextLogger) ([]string, error) {
	log = log.WithComponent("report")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	snapshot, err := c.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to build report snapshot: %w", err)
	}
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	summaryPath := filepath.Join(dir, summaryFile)
	if err := os.WriteFile(summaryPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}
	written := []string{summaryPath}

	rows := ledgerRows(c)
	for _, format := range formats {
		path := filepath.Join(dir, ledgerName+"."+format)
		meta, err := writeLedger(ctx, format, path, rows)
		if err != nil {
			return written, err
		}
		written = append(written, path)

		log.LogDebug("LedgerWritten", "Render ledger written", logger.Fields{
			"path":     path,
			"rows":     meta.RowCount,
			"checksum": meta.Checksum,
		})
	}

	log.LogInfo("ReportWritten", "Run report written", logger.Fields{
		"dir":   dir,
		"files": len(written),
	})
	return written, nil
}

func writeLedger(ctx context.Context, format, path string, rows [][]string) (*writer.FileMetadata, error) {
	w, err := writer.New(format)
	if err != nil {
		return nil, err
	}
	if err := w.Initialize(ctx, writer.Options{SheetName: "Renders"}, path); err != nil {
		return nil, fmt.Errorf("failed to initialize %s ledger: %w", format, err)
	}
	if err := w.WriteHeader(ledgerColumns); err != nil {
		w.Cleanup()
		return nil, fmt.Errorf("failed to write %s ledger header: %w", format, err)
	}
	if err := w.WriteRecords(rows); err != nil {
		w.Cleanup()
		return nil, fmt.Errorf("failed to write %s ledger: %w", format, err)
	}
	meta, err := w.Finalize()
	if err != nil {
		w.Cleanup()
		return nil, fmt.Errorf("failed to finalize %s ledger: %w", format, err)
	}
	return meta, nil
}

// ledgerRows renders one row per page job, sorted by job key
func ledgerRows(c *Collector) [][]string {
	renders := c.Renders()
	rows := make([][]string, 0, len(renders))
	for _, r := range renders {
		dim := r.Job.Dimension
		label, err := dim.WeekStartsOn.Label()
		if err != nil {
			label = strconv.Itoa(int(dim.WeekStartsOn))
		}
		month := ""
		if r.Job.Month > 0 {
			month = strconv.Itoa(r.Job.Month)
		}
		rows = append(rows, []string{
			r.Job.Key(),
			string(dim.Theme),
			strconv.Itoa(dim.Year),
			string(dim.Format),
			dim.Locale.Code,
			label,
			string(dim.CalendarType),
			string(dim.Orientation),
			month,
			string(r.Status),
			r.PDFPath,
			r.PreviewPath,
			strconv.FormatInt(r.PDFBytes, 10),
			strconv.FormatInt(r.PreviewBytes, 10),
			strconv.FormatInt(r.Duration.Milliseconds(), 10),
			r.ErrorCode,
			r.Error,
			strconv.FormatInt(r.QueueWait.Milliseconds(), 10),
		})
	}
	return rows
}
