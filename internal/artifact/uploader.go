// Package artifact ships finished generations to object storage and the
// archive.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	logx "producerd/pkg/logx"
)

// UploadInfo describes one stored artifact.
type UploadInfo struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// UploaderConfig configures the object-storage client.
type UploaderConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string // do not log
	Bucket    string
	UseSSL    bool
}

// Uploader stores artifacts in an S3-compatible bucket.
type Uploader struct {
	cfg    UploaderConfig
	log    logx.Logger
	client *minio.Client

	mu       sync.Mutex
	bucketOK bool
}

// NewUploader builds the client. The bucket is verified lazily on first
// upload so a cold object store doesn't block process start.
func NewUploader(cfg UploaderConfig, log logx.Logger) (*Uploader, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("uploader endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("uploader bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage client: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Uploader{cfg: cfg, log: log.With(logx.String("comp", "uploader")), client: client}, nil
}

// Upload stores the local file under key and returns its location.
func (u *Uploader) Upload(ctx context.Context, localPath, key string) (UploadInfo, error) {
	if err := u.ensureBucket(ctx); err != nil {
		return UploadInfo{}, err
	}
	contentType := contentTypeFor(localPath)
	info, err := u.client.FPutObject(ctx, u.cfg.Bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return UploadInfo{}, fmt.Errorf("put object %s: %w", key, err)
	}
	out := UploadInfo{
		URL:         u.objectURL(key),
		Key:         key,
		Size:        info.Size,
		ContentType: contentType,
	}
	u.log.Debug("artifact uploaded", logx.String("key", key), logx.Int64("size", out.Size))
	return out, nil
}

// ensureBucket checks the bucket once per process, creating it if absent.
func (u *Uploader) ensureBucket(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.bucketOK {
		return nil
	}
	ok, err := u.client.BucketExists(ctx, u.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket check: %w", err)
	}
	if !ok {
		if err := u.client.MakeBucket(ctx, u.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("make bucket %s: %w", u.cfg.Bucket, err)
		}
		u.log.Info("bucket created", logx.String("bucket", u.cfg.Bucket))
	}
	u.bucketOK = true
	return nil
}

func (u *Uploader) objectURL(key string) string {
	scheme := "http"
	if u.cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, u.cfg.Endpoint, u.cfg.Bucket, key)
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	}
	return "application/octet-stream"
}
