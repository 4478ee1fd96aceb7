package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fluxo/calgen/pkg/calendar"
)

// Engine launches headless browsers
type Engine interface {
	// Name identifies the engine in logs and metrics
	Name() string
	// Launch starts (or attaches to) one browser instance
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a live browser instance owned by one render session
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single browser tab. A page is never reused after an error.
type Page interface {
	SetViewport(ctx context.Context, vp calendar.Viewport) error
	// Navigate loads url and returns once the network has gone idle
	Navigate(ctx context.Context, url string) error
	PrintPDF(ctx context.Context, paper calendar.PaperSize, landscape bool) ([]byte, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// PageScope hands out pages with guaranteed release. Sessions implement it.
// timeout bounds the page work only: it starts once a page slot is held, so
// time spent queued never counts against it. 0 means no limit.
type PageScope interface {
	WithPage(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, page Page) error) error
}

// PageContext derives the context a page is opened and driven under
func PageContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// TimeoutError reports err as RENDER_TIMEOUT when pageCtx ran out while
// parent is still live. Any other err is returned unchanged.
func TimeoutError(parent, pageCtx context.Context, timeout time.Duration, err error) error {
	if err == nil || parent.Err() != nil || !errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
		return err
	}
	return NewRenderError(ErrCodeRenderTimeout, fmt.Sprintf("render timed out after %v", timeout), err)
}

// RenderError represents a failure while rendering one page
type RenderError struct {
	Code    string
	Message string
	Cause   error
}

func (e *RenderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// Error codes for render failures
const (
	ErrCodeLaunchFailed     = "LAUNCH_FAILED"
	ErrCodePageFailed       = "PAGE_FAILED"
	ErrCodeNavigationFailed = "NAVIGATION_FAILED"
	ErrCodeCaptureFailed    = "CAPTURE_FAILED"
	ErrCodeRenderTimeout    = "RENDER_TIMEOUT"
	ErrCodeWriteFailed      = "WRITE_FAILED"
	ErrCodeInvalidJob       = "INVALID_JOB"
)

// NewRenderError creates a new RenderError
func NewRenderError(code, message string, cause error) *RenderError {
	return &RenderError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Status of a page render
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is one page render: a dimension plus the month for monthly calendars
// (0 for yearly).
type Job struct {
	Dimension calendar.BuildDimension
	Month     int
}

// Jobs expands a dimension into its page jobs
func Jobs(dim calendar.BuildDimension) []Job {
	months := dim.Months()
	jobs := make([]Job, len(months))
	for i, m := range months {
		jobs[i] = Job{Dimension: dim, Month: m}
	}
	return jobs
}

// Key identifies the job in logs and reports
func (j Job) Key() string {
	if j.Month == 0 {
		return j.Dimension.Key()
	}
	return fmt.Sprintf("%s/%02d", j.Dimension.Key(), j.Month)
}

// Result records the outcome of one page render. QueueWait runs until an
// open page is handed over (slot wait, pacing and page creation); Duration
// runs from then until both artifacts are written.
type Result struct {
	Job          Job
	Status       Status
	PDFPath      string
	PreviewPath  string
	PDFBytes     int64
	PreviewBytes int64
	QueueWait    time.Duration
	Duration     time.Duration
	ErrorCode    string
	Error        string
}

// Succeeded reports whether both artifacts were written
func (r Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// failedResult builds a failed result from any error, keeping the code of a RenderError
func failedResult(job Job, err error) Result {
	code := ErrCodeCaptureFailed
	var re *RenderError
	if errors.As(err, &re) {
		code = re.Code
	}
	return Result{
		Job:       job,
		Status:    StatusFailed,
		ErrorCode: code,
		Error:     err.Error(),
	}
}

// TargetURL builds the render target address for a job. Every parameter the
// page needs is carried explicitly in the query string.
func TargetURL(base string, job Job) (string, error) {
	dim := job.Dimension
	themeRoute, err := dim.Theme.Route()
	if err != nil {
		return "", err
	}
	typeRoute, err := dim.CalendarType.Route()
	if err != nil {
		return "", err
	}
	if _, err := dim.WeekStartsOn.Label(); err != nil {
		return "", err
	}

	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid render target %q: %w", base, err)
	}
	u = u.JoinPath("render", themeRoute, typeRoute)

	q := url.Values{}
	q.Set("year", strconv.Itoa(dim.Year))
	if dim.CalendarType == calendar.Monthly {
		if job.Month < 1 || job.Month > 12 {
			return "", fmt.Errorf("month %d out of range", job.Month)
		}
		q.Set("month", strconv.Itoa(job.Month))
	}
	q.Set("locale", dim.Locale.Code)
	q.Set("format", string(dim.Format))
	q.Set("orientation", string(dim.Orientation))
	q.Set("weekStartsOn", strconv.Itoa(int(dim.WeekStartsOn)))
	u.RawQuery = q.Encode()

	return u.String(), nil
}
