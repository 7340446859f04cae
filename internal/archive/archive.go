// Package archive copies downloaded note artifacts into a MinIO/S3 bucket and
// hands out presigned links to them.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/notely/internal/config"
	"github.com/dharsanguruparan/notely/internal/model"
)

const defaultURLTTL = 24 * time.Hour

// Stored describes one archived object.
type Stored struct {
	Key  string
	Size int64
	URL  string
}

// Archive wraps the bucket that receives artifacts.
type Archive struct {
	client *minio.Client
	bucket string
	region string
	urlTTL time.Duration
}

// New creates a MinIO client from cfg. No request is made until the archive
// is used.
func New(cfg config.ArchiveConfig) (*Archive, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("archive: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = defaultURLTTL
	}
	return &Archive{client: client, bucket: cfg.Bucket, region: cfg.Region, urlTTL: ttl}, nil
}

// Bucket returns the bucket name.
func (a *Archive) Bucket() string { return a.bucket }

// EnsureBucket creates the bucket when it does not exist yet.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", a.bucket, err)
	}
	return nil
}

// ObjectKey is where an artifact of a note is stored.
func ObjectKey(noteID string, format model.ArtifactFormat) string {
	return fmt.Sprintf("notes/%s/%s%s", noteID, noteID, format.Extension())
}

// Store uploads one artifact and returns its key and a presigned GET URL.
func (a *Archive) Store(ctx context.Context, noteID string, format model.ArtifactFormat, data []byte) (Stored, error) {
	key := ObjectKey(noteID, format)
	opts := minio.PutObjectOptions{ContentType: format.ContentType()}
	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return Stored{}, fmt.Errorf("upload %s: %w", key, err)
	}
	link, err := a.PresignedURL(ctx, key)
	if err != nil {
		return Stored{}, err
	}
	return Stored{Key: key, Size: info.Size, URL: link}, nil
}

// Fetch reads an archived object back.
func (a *Archive) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// PresignedURL returns a signed GET URL valid for the configured TTL.
func (a *Archive) PresignedURL(ctx context.Context, key string) (string, error) {
	u, err := a.client.PresignedGetObject(ctx, a.bucket, key, a.urlTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
