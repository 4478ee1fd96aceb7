package publish

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fluxo/calgen/pkg/calendar"
	"github.com/fluxo/calgen/pkg/config"
	"github.com/fluxo/calgen/pkg/logger"
)

// ErrCodeUploadFailed is recorded for bundles that could not be published
const ErrCodeUploadFailed = "UPLOAD_ERROR"

// Bundle is a finished archive ready for upload
type Bundle struct {
	Path  string
	Theme calendar.Theme
	Year  int
}

// Result contains the result of an upload
type Result struct {
	Backend    string
	ObjectKey  string
	SignedURL  string
	Size       int64
	UploadTime time.Duration
}

// Publisher uploads bundles to object storage
type Publisher interface {
	Name() string
	Publish(ctx context.Context, b Bundle) (*Result, error)
}

// New builds the publisher selected by cfg.Backend
func New(ctx context.Context, cfg config.PublishConfig, log *logger.Logger) (Publisher, error) {
	switch cfg.Backend {
	case config.BackendOSS:
		return NewOSSUploader(cfg.Prefix, &cfg.OSS, log)
	case config.BackendS3:
		return NewS3Uploader(ctx, cfg.Prefix, &cfg.S3, log)
	default:
		return nil, fmt.Errorf("unknown publish backend %q", cfg.Backend)
	}
}

// ObjectKey is {prefix}/{theme}/{year}/{bundle file name}
func ObjectKey(prefix string, b Bundle) string {
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, string(b.Theme), strconv.Itoa(b.Year), filepath.Base(b.Path))
	return path.Join(parts...)
}

// retry runs fn up to maxRetries+1 times with a linear backoff, stopping
// early when ctx ends.
func retry(ctx context.Context, maxRetries int, log *logger.ContextLogger, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			waitTime := time.Duration(attempt) * backoffUnit
			log.LogWarn(
				"UploadRetry",
				fmt.Sprintf("Retrying upload (attempt %d/%d)", attempt+1, maxRetries+1),
				logger.Fields{"wait_time": waitTime.String(), "error": lastErr.Error()},
			)
			t := time.NewTimer(waitTime)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-t.C:
			}
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to upload after %d attempts: %w", maxRetries+1, lastErr)
}

// backoffUnit is the retry wait step; tests shorten it
var backoffUnit = time.Second
