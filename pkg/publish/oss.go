package publish

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/fluxo/calgen/pkg/config"
	"github.com/fluxo/calgen/pkg/logger"
)

// ossBucket is the subset of *oss.Bucket the uploader uses
type ossBucket interface {
	PutObjectFromFile(objectKey, filePath string, options ...oss.Option) error
	InitiateMultipartUpload(objectKey string, options ...oss.Option) (oss.InitiateMultipartUploadResult, error)
	UploadPartFromFile(imur oss.InitiateMultipartUploadResult, filePath string, startPosition, partSize int64, number int, options ...oss.Option) (oss.UploadPart, error)
	CompleteMultipartUpload(imur oss.InitiateMultipartUploadResult, parts []oss.UploadPart, options ...oss.Option) (oss.CompleteMultipartUploadResult, error)
	AbortMultipartUpload(imur oss.InitiateMultipartUploadResult, options ...oss.Option) error
	SignURL(objectKey string, method oss.HTTPMethod, expiredInSec int64, options ...oss.Option) (string, error)
}

// OSSUploader handles bundle uploads to Alibaba Cloud OSS
type OSSUploader struct {
	bucket ossBucket
	prefix string
	config *config.OSSConfig
	logger *logger.Logger
}

// NewOSSUploader creates a new OSS uploader
func NewOSSUploader(prefix string, cfg *config.OSSConfig, log *logger.Logger) (*OSSUploader, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get OSS bucket: %w", err)
	}

	return newOSSUploader(bucket, prefix, cfg, log), nil
}

func newOSSUploader(bucket ossBucket, prefix string, cfg *config.OSSConfig, log *logger.Logger) *OSSUploader {
	return &OSSUploader{
		bucket: bucket,
		prefix: prefix,
		config: cfg,
		logger: log,
	}
}

// Name implements Publisher
func (u *OSSUploader) Name() string {
	return config.BackendOSS
}

// Publish uploads a bundle with retries and returns a signed download URL
func (u *OSSUploader) Publish(ctx context.Context, b Bundle) (*Result, error) {
	startTime := time.Now()

	fileInfo, err := os.Stat(b.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat bundle: %w", err)
	}

	objectKey := ObjectKey(u.prefix, b)

	contextLogger := u.logger.WithContext(ctx).WithComponent("oss_uploader")
	contextLogger.LogUploadStarted(
		"Starting OSS upload",
		logger.Fields{
			"object_key": objectKey,
			"file_size":  fileInfo.Size(),
			"local_path": b.Path,
		},
	)

	if u.config.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.config.UploadTimeout)
		defer cancel()
	}

	if fileInfo.Size() > u.config.PartSize {
		err = u.uploadParts(ctx, b.Path, fileInfo.Size(), objectKey, contextLogger)
	} else {
		err = retry(ctx, u.config.MaxRetries, contextLogger, func() error {
			return u.bucket.PutObjectFromFile(objectKey, b.Path, oss.WithContext(ctx), oss.ContentType("application/zip"))
		})
	}
	if err != nil {
		contextLogger.LogUploadFailed(
			"OSS upload failed after retries",
			ErrCodeUploadFailed,
			err.Error(),
			logger.Fields{
				"object_key": objectKey,
				"attempts":   u.config.MaxRetries + 1,
			},
		)
		return nil, err
	}

	signedURL, err := u.generateSignedURL(objectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signed URL: %w", err)
	}

	duration := time.Since(startTime)
	contextLogger.LogUploadCompleted(
		"OSS upload completed successfully",
		duration,
		logger.Fields{
			"object_key": objectKey,
			"file_size":  fileInfo.Size(),
		},
	)

	return &Result{
		Backend:    u.Name(),
		ObjectKey:  objectKey,
		SignedURL:  signedURL,
		Size:       fileInfo.Size(),
		UploadTime: duration,
	}, nil
}

// filePart is one byte range of a multipart upload, numbered from 1
type filePart struct {
	number int
	offset int64
	size   int64
}

// splitParts cuts size bytes into ranges of at most partSize
func splitParts(size, partSize int64) []filePart {
	var parts []filePart
	for offset := int64(0); offset < size; offset += partSize {
		parts = append(parts, filePart{
			number: len(parts) + 1,
			offset: offset,
			size:   min(partSize, size-offset),
		})
	}
	return parts
}

// uploadParts runs a multipart upload. Each call is retried on its own, so a
// flaky part does not resend the parts before it; the upload is aborted once
// any step runs out of attempts.
func (u *OSSUploader) uploadParts(ctx context.Context, localPath string, size int64, objectKey string, log *logger.ContextLogger) (err error) {
	var imur oss.InitiateMultipartUploadResult
	err = retry(ctx, u.config.MaxRetries, log, func() (err error) {
		imur, err = u.bucket.InitiateMultipartUpload(objectKey, oss.WithContext(ctx), oss.ContentType("application/zip"))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to initiate multipart upload: %w", err)
	}
	defer func() {
		if err != nil {
			u.bucket.AbortMultipartUpload(imur)
		}
	}()

	ranges := splitParts(size, u.config.PartSize)
	uploaded := make([]oss.UploadPart, 0, len(ranges))
	for _, r := range ranges {
		var part oss.UploadPart
		err = retry(ctx, u.config.MaxRetries, log, func() (err error) {
			part, err = u.bucket.UploadPartFromFile(imur, localPath, r.offset, r.size, r.number, oss.WithContext(ctx))
			return err
		})
		if err != nil {
			return fmt.Errorf("part %d/%d: %w", r.number, len(ranges), err)
		}
		uploaded = append(uploaded, part)
		log.LogDebug("OSSPartUploaded", "Uploaded bundle part", logger.Fields{
			"part":  fmt.Sprintf("%d/%d", r.number, len(ranges)),
			"bytes": r.size,
		})
	}

	err = retry(ctx, u.config.MaxRetries, log, func() error {
		_, err := u.bucket.CompleteMultipartUpload(imur, uploaded, oss.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

// generateSignedURL creates a signed URL for downloading
func (u *OSSUploader) generateSignedURL(objectKey string) (string, error) {
	expiry := int64(u.config.SignedURLExpiry.Seconds())
	signedURL, err := u.bucket.SignURL(objectKey, oss.HTTPGet, expiry)
	if err != nil {
		return "", fmt.Errorf("failed to sign URL: %w", err)
	}
	return signedURL, nil
}

var _ Publisher = (*OSSUploader)(nil)
