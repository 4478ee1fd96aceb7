package publish

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fluxo/calgen/pkg/config"
	"github.com/fluxo/calgen/pkg/logger"
)

type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3PresignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Uploader publishes bundles to S3-compatible storage (AWS S3, MinIO, ...)
type S3Uploader struct {
	client  s3PutAPI
	presign s3PresignAPI
	prefix  string
	config  *config.S3Config
	logger  *logger.Logger
}

// NewS3Uploader creates an uploader with static credentials
func NewS3Uploader(ctx context.Context, prefix string, cfg *config.S3Config, log *logger.Logger) (*S3Uploader, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newS3Uploader(client, s3.NewPresignClient(client), prefix, cfg, log), nil
}

func newS3Uploader(client s3PutAPI, presign s3PresignAPI, prefix string, cfg *config.S3Config, log *logger.Logger) *S3Uploader {
	return &S3Uploader{
		client:  client,
		presign: presign,
		prefix:  prefix,
		config:  cfg,
		logger:  log,
	}
}

// Name implements Publisher
func (u *S3Uploader) Name() string {
	return config.BackendS3
}

// Publish uploads a bundle and returns a presigned GET URL
func (u *S3Uploader) Publish(ctx context.Context, b Bundle) (*Result, error) {
	startTime := time.Now()

	info, err := os.Stat(b.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat bundle: %w", err)
	}
	objectKey := ObjectKey(u.prefix, b)

	contextLogger := u.logger.WithContext(ctx).WithComponent("s3_uploader")
	contextLogger.LogUploadStarted("Starting S3 upload", logger.Fields{
		"bucket":     u.config.Bucket,
		"object_key": objectKey,
		"file_size":  info.Size(),
	})

	err = retry(ctx, u.config.MaxRetries, contextLogger, func() error {
		f, err := os.Open(b.Path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(u.config.Bucket),
			Key:           aws.String(objectKey),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
			ContentType:   aws.String("application/zip"),
		})
		return err
	})
	if err != nil {
		contextLogger.LogUploadFailed("S3 upload failed after retries", ErrCodeUploadFailed, err.Error(),
			logger.Fields{"object_key": objectKey, "attempts": u.config.MaxRetries + 1})
		return nil, err
	}

	req, err := u.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.config.Bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(u.config.PresignExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign download URL: %w", err)
	}

	duration := time.Since(startTime)
	contextLogger.LogUploadCompleted("S3 upload completed successfully", duration, logger.Fields{
		"object_key": objectKey,
		"file_size":  info.Size(),
	})

	return &Result{
		Backend:    u.Name(),
		ObjectKey:  objectKey,
		SignedURL:  req.URL,
		Size:       info.Size(),
		UploadTime: duration,
	}, nil
}

var _ Publisher = (*S3Uploader)(nil)
