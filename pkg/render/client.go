package render

import (
	"context"
	"os"
	"time"

	"github.com/fluxo/calgen/pkg/calendar"
	"github.com/fluxo/calgen/pkg/logger"
	"github.com/fluxo/calgen/pkg/storage"
)

// ClientConfig contains render client settings
type ClientConfig struct {
	TargetURL     string
	RenderTimeout time.Duration
}

// Client renders page jobs into the output tree
type Client struct {
	cfg     ClientConfig
	storage *storage.Manager
	log     *logger.ContextLogger
}

// NewClient creates a render client writing through store
func NewClient(cfg ClientConfig, store *storage.Manager, log *logger.ContextLogger) *Client {
	return &Client{
		cfg:     cfg,
		storage: store,
		log:     log.WithComponent("render"),
	}
}

// Render produces the PDF and PNG preview of one page job. It never panics
// on a page failure and always returns a Result; sibling renders are unaffected.
func (c *Client) Render(ctx context.Context, scope PageScope, job Job) Result {
	start := time.Now()
	var handedOver time.Time
	log := c.log.WithDimension(job.Key())

	res, err := c.render(ctx, scope, job, &handedOver)
	if err != nil {
		res = failedResult(job, err)
	}
	if handedOver.IsZero() {
		res.QueueWait = time.Since(start)
	} else {
		res.QueueWait = handedOver.Sub(start)
		res.Duration = time.Since(handedOver)
	}

	if err != nil {
		log.LogRenderFailed("Page render failed", res.ErrorCode, res.Error, logger.Fields{
			"queue_ms": res.QueueWait.Milliseconds(),
		})
		return res
	}
	log.LogRenderCompleted("Page rendered", res.Duration, logger.Fields{
		"pdf_bytes":     res.PDFBytes,
		"preview_bytes": res.PreviewBytes,
		"queue_ms":      res.QueueWait.Milliseconds(),
	})
	return res
}

func (c *Client) render(ctx context.Context, scope PageScope, job Job, handedOver *time.Time) (Result, error) {
	dim := job.Dimension

	target, err := TargetURL(c.cfg.TargetURL, job)
	if err != nil {
		return Result{}, NewRenderError(ErrCodeInvalidJob, "cannot build render target", err)
	}
	vp, err := calendar.PaperDimensions(dim.Format, dim.Orientation.IsLandscape())
	if err != nil {
		return Result{}, NewRenderError(ErrCodeInvalidJob, "unknown paper format", err)
	}
	paper, err := calendar.PaperSizeOf(dim.Format)
	if err != nil {
		return Result{}, NewRenderError(ErrCodeInvalidJob, "unknown paper format", err)
	}

	paths, err := storage.Plan(c.storage.BaseDir(), dim)
	if err != nil {
		return Result{}, NewRenderError(ErrCodeInvalidJob, "cannot plan output paths", err)
	}
	pdfName, err := storage.FilenameFor(dim, job.Month, storage.ExtPDF)
	if err != nil {
		return Result{}, NewRenderError(ErrCodeInvalidJob, "cannot name output file", err)
	}
	pngName, err := storage.FilenameFor(dim, job.Month, storage.ExtPNG)
	if err != nil {
		return Result{}, NewRenderError(ErrCodeInvalidJob, "cannot name output file", err)
	}
	pdfPath, pngPath := paths.PDFPath(pdfName), paths.PreviewPath(pngName)

	if err := c.storage.EnsureDirs(paths); err != nil {
		return Result{}, NewRenderError(ErrCodeWriteFailed, "cannot create output directories", err)
	}
	release, err := c.storage.Claim(pdfPath, pngPath)
	if err != nil {
		return Result{}, NewRenderError(ErrCodeWriteFailed, "output collision", err)
	}
	defer release()

	var pdf, png []byte
	err = scope.WithPage(ctx, c.cfg.RenderTimeout, func(ctx context.Context, page Page) error {
		*handedOver = time.Now()
		if err := page.SetViewport(ctx, vp); err != nil {
			return NewRenderError(ErrCodePageFailed, "failed to set viewport", err)
		}
		if err := page.Navigate(ctx, target); err != nil {
			return NewRenderError(ErrCodeNavigationFailed, "failed to load "+target, err)
		}
		var err error
		if pdf, err = page.PrintPDF(ctx, paper, dim.Orientation.IsLandscape()); err != nil {
			return NewRenderError(ErrCodeCaptureFailed, "failed to print PDF", err)
		}
		if len(pdf) == 0 {
			return NewRenderError(ErrCodeCaptureFailed, "generated PDF is empty", nil)
		}
		if png, err = page.Screenshot(ctx); err != nil {
			return NewRenderError(ErrCodeCaptureFailed, "failed to capture preview", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	pdfBytes, err := c.storage.WriteFile(pdfPath, pdf)
	if err != nil {
		return Result{}, NewRenderError(ErrCodeWriteFailed, "failed to write PDF", err)
	}
	pngBytes, err := c.storage.WriteFile(pngPath, png)
	if err != nil {
		// keep the pair consistent: no document without its preview
		os.Remove(pdfPath)
		return Result{}, NewRenderError(ErrCodeWriteFailed, "failed to write preview", err)
	}

	return Result{
		Job:          job,
		Status:       StatusSucceeded,
		PDFPath:      pdfPath,
		PreviewPath:  pngPath,
		PDFBytes:     pdfBytes,
		PreviewBytes: pngBytes,
	}, nil
}
