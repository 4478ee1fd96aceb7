package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxo/calgen/pkg/calendar"
	"github.com/fluxo/calgen/pkg/config"
	"github.com/fluxo/calgen/pkg/logger"
)

func init() {
	backoffUnit = time.Millisecond
}

func bundleFile(t *testing.T, size int) Bundle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simple-2026-a4.zip")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return Bundle{Path: path, Theme: calendar.ThemeSimple, Year: 2026}
}

// fakeBucket fails the first partFlakes part uploads, or every one with partErr
type fakeBucket struct {
	mu         sync.Mutex
	putErrs    []error
	puts       []string
	parts      []oss.UploadPart
	completed  bool
	aborted    bool
	partErr    error
	partFlakes int
	partCalls  int
}

func (f *fakeBucket) PutObjectFromFile(objectKey, filePath string, options ...oss.Option) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, objectKey)
	if len(f.putErrs) > 0 {
		err := f.putErrs[0]
		f.putErrs = f.putErrs[1:]
		return err
	}
	return nil
}

func (f *fakeBucket) InitiateMultipartUpload(objectKey string, options ...oss.Option) (oss.InitiateMultipartUploadResult, error) {
	return oss.InitiateMultipartUploadResult{Key: objectKey, UploadID: "up-1"}, nil
}

func (f *fakeBucket) UploadPartFromFile(imur oss.InitiateMultipartUploadResult, filePath string, startPosition, partSize int64, number int, options ...oss.Option) (oss.UploadPart, error) {
	f.partCalls++
	if f.partErr != nil {
		return oss.UploadPart{}, f.partErr
	}
	if f.partFlakes > 0 {
		f.partFlakes--
		return oss.UploadPart{}, errors.New("connection reset")
	}
	part := oss.UploadPart{PartNumber: number, ETag: "etag"}
	f.parts = append(f.parts, part)
	return part, nil
}

func (f *fakeBucket) CompleteMultipartUpload(imur oss.InitiateMultipartUploadResult, parts []oss.UploadPart, options ...oss.Option) (oss.CompleteMultipartUploadResult, error) {
	f.completed = true
	return oss.CompleteMultipartUploadResult{}, nil
}

func (f *fakeBucket) AbortMultipartUpload(imur oss.InitiateMultipartUploadResult, options ...oss.Option) error {
	f.aborted = true
	return nil
}

func (f *fakeBucket) SignURL(objectKey string, method oss.HTTPMethod, expiredInSec int64, options ...oss.Option) (string, error) {
	return "https://bucket.oss/" + objectKey + "?sig", nil
}

func ossConfig() *config.OSSConfig {
	return &config.OSSConfig{
		PartSize:        1024,
		SignedURLExpiry: time.Hour,
		MaxRetries:      2,
	}
}

func TestObjectKey(t *testing.T) {
	b := Bundle{Path: "/out/simple/dist/simple-2026-a4.zip", Theme: calendar.ThemeSimple, Year: 2026}
	assert.Equal(t, "calendars/simple/2026/simple-2026-a4.zip", ObjectKey("/calendars/", b))
	assert.Equal(t, "simple/2026/simple-2026-a4.zip", ObjectKey("", b))
}

func TestOSSUploader_SimpleWithRetry(t *testing.T) {
	bucket := &fakeBucket{putErrs: []error{errors.New("503 slow down")}}
	u := newOSSUploader(bucket, "calendars", ossConfig(), logger.NewNop())

	res, err := u.Publish(context.Background(), bundleFile(t, 100))
	require.NoError(t, err)
	assert.Equal(t, "calendars/simple/2026/simple-2026-a4.zip", res.ObjectKey)
	assert.Equal(t, "https://bucket.oss/calendars/simple/2026/simple-2026-a4.zip?sig", res.SignedURL)
	assert.EqualValues(t, 100, res.Size)
	assert.Equal(t, config.BackendOSS, res.Backend)
	assert.Len(t, bucket.puts, 2)
}

func TestOSSUploader_GivesUp(t *testing.T) {
	fail := errors.New("access denied")
	bucket := &fakeBucket{putErrs: []error{fail, fail, fail, fail}}
	u := newOSSUploader(bucket, "", ossConfig(), logger.NewNop())

	_, err := u.Publish(context.Background(), bundleFile(t, 10))
	assert.ErrorIs(t, err, fail)
	assert.Len(t, bucket.puts, 3)
}

func TestOSSUploader_Multipart(t *testing.T) {
	bucket := &fakeBucket{}
	u := newOSSUploader(bucket, "", ossConfig(), logger.NewNop())

	_, err := u.Publish(context.Background(), bundleFile(t, 2500))
	require.NoError(t, err)
	assert.Len(t, bucket.parts, 3)
	assert.True(t, bucket.completed)
	assert.Empty(t, bucket.puts)
}

func TestOSSUploader_MultipartAbort(t *testing.T) {
	bucket := &fakeBucket{partErr: errors.New("reset by peer")}
	cfg := ossConfig()
	cfg.MaxRetries = 0
	u := newOSSUploader(bucket, "", cfg, logger.NewNop())

	_, err := u.Publish(context.Background(), bundleFile(t, 2048))
	assert.Error(t, err)
	assert.True(t, bucket.aborted)
}

func TestOSSUploader_MultipartRetriesOnlyFailedPart(t *testing.T) {
	bucket := &fakeBucket{partFlakes: 1}
	u := newOSSUploader(bucket, "", ossConfig(), logger.NewNop())

	_, err := u.Publish(context.Background(), bundleFile(t, 2500))
	require.NoError(t, err)
	assert.Equal(t, 4, bucket.partCalls, "three parts plus one retry")
	assert.Len(t, bucket.parts, 3)
	assert.True(t, bucket.completed)
	assert.False(t, bucket.aborted)
}

func TestSplitParts(t *testing.T) {
	parts := splitParts(2500, 1024)
	require.Len(t, parts, 3)
	assert.Equal(t, filePart{number: 1, offset: 0, size: 1024}, parts[0])
	assert.Equal(t, filePart{number: 3, offset: 2048, size: 452}, parts[2])

	assert.Len(t, splitParts(2048, 1024), 2)
	assert.Empty(t, splitParts(0, 1024))
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry(ctx, 5, logger.NewNop().WithContext(ctx), func() error {
		calls++
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

type fakeS3 struct {
	key  string
	body []byte
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.key = *in.Key
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://s3.local/" + *in.Bucket + "/" + *in.Key}, nil
}

func TestS3Uploader(t *testing.T) {
	api := &fakeS3{}
	cfg := &config.S3Config{Bucket: "calendars", PresignExpiry: time.Hour}
	u := newS3Uploader(api, api, "dist", cfg, logger.NewNop())

	res, err := u.Publish(context.Background(), bundleFile(t, 64))
	require.NoError(t, err)
	assert.Equal(t, "dist/simple/2026/simple-2026-a4.zip", api.key)
	assert.Len(t, api.body, 64)
	assert.Equal(t, "https://s3.local/calendars/dist/simple/2026/simple-2026-a4.zip", res.SignedURL)
}

func TestS3Uploader_Failure(t *testing.T) {
	api := &fakeS3{err: errors.New("no such bucket")}
	u := newS3Uploader(api, api, "", &config.S3Config{Bucket: "x"}, logger.NewNop())

	_, err := u.Publish(context.Background(), bundleFile(t, 1))
	assert.Error(t, err)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.PublishConfig{Backend: "ftp"}, logger.NewNop())
	assert.Error(t, err)
}
