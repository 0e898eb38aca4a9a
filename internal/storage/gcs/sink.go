// Package gcs uploads captured files to Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	pdfstorage "github.com/JakeFAU/pdf-capture-service/internal/storage"
)

// Config captures the parameters required to upload to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Sink writes captured files to a configured GCS bucket.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed sink.
func New(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Name identifies the sink in metrics and responses.
func (s *Sink) Name() string { return "gcs" }

// Upload writes data to the bucket and returns its gs:// URI and console URL.
func (s *Sink) Upload(ctx context.Context, filename, mimeType string, data []byte) (pdfstorage.Object, error) {
	if strings.TrimSpace(filename) == "" {
		return pdfstorage.Object{}, fmt.Errorf("filename is required")
	}
	key := pdfstorage.ObjectKey(s.prefix, filename)
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if mimeType != "" {
		writer.ContentType = mimeType
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return pdfstorage.Object{}, fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return pdfstorage.Object{}, fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return pdfstorage.Object{}, fmt.Errorf("close writer: %w", err)
	}
	return objectFor(s.bucket, key), nil
}

func objectFor(bucket, key string) pdfstorage.Object {
	return pdfstorage.Object{
		ID:      fmt.Sprintf("gs://%s/%s", bucket, key),
		ViewURL: fmt.Sprintf("https://storage.cloud.google.com/%s/%s", bucket, key),
	}
}
