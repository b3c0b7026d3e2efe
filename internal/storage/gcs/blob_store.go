// Package gcs stores run reports in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the destination bucket.
type Config struct {
	Bucket string
}

// objectWriter is the subset of *storage.Writer the store drives.
type objectWriter interface {
	io.WriteCloser
	setContentType(contentType string)
}

type gcsWriter struct {
	*storage.Writer
}

func (w gcsWriter) setContentType(contentType string) {
	w.ContentType = contentType
}

type writerFactory func(ctx context.Context, bucket, object string) objectWriter

// BlobStore uploads report objects to one bucket.
type BlobStore struct {
	bucket    string
	newWriter writerFactory
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newBlobStore(cfg, func(ctx context.Context, bucket, object string) objectWriter {
		return gcsWriter{Writer: client.Bucket(bucket).Object(object).NewWriter(ctx)}
	})
}

func newBlobStore(cfg Config, factory writerFactory) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("reports.bucket is required for gcs")
	}
	return &BlobStore{bucket: cfg.Bucket, newWriter: factory}, nil
}

// PutObject streams data into the bucket and returns a gs:// URI.
// The object is only committed when the writer closes cleanly; a failed copy
// cancels the upload so no partial object is left behind.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.newWriter(writeCtx, s.bucket, path)
	if contentType != "" {
		w.setContentType(contentType)
	}
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
