package rawstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/catalog-dev/catalog-ingest/config"
)

const refScheme = "s3://"

// MinIOStore keeps raw bodies in an S3 compatible bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIO connects to the configured endpoint and creates the bucket when
// it does not exist yet.
func NewMinIO(ctx context.Context, cfg config.BlobConfig) (*MinIOStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blob bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		slog.Info("Created raw response bucket", "bucket", cfg.Bucket)
	}

	slog.Info("Blob store initialized", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinIOStore) Put(ctx context.Context, key string, body []byte) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return "", fmt.Errorf("upload raw body: %w", err)
	}
	return refScheme + m.bucket + "/" + key, nil
}

func (m *MinIOStore) Get(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := splitRef(ref)
	if err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get raw body: %w", err)
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// objectKey is content addressed so an unchanged body maps to the same object.
// Format: {source}/{local id}/{hash}.raw
func objectKey(sourceID, localID, hash string) string {
	return url.PathEscape(sourceID) + "/" + url.PathEscape(localID) + "/" + strings.TrimPrefix(hash, "sha256:") + ".raw"
}

func splitRef(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, refScheme)
	if !ok {
		return "", "", fmt.Errorf("invalid blob ref %q", ref)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid blob ref %q", ref)
	}
	return bucket, key, nil
}
