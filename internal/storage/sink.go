// Package storage defines where captured files are relayed and recorded.
package storage

import (
	"context"
	"path"
	"strings"
	"time"
)

// Object identifies an uploaded file.
type Object struct {
	ID      string
	ViewURL string
}

// Sink uploads captured files.
type Sink interface {
	Name() string
	Upload(ctx context.Context, filename, mimeType string, data []byte) (Object, error)
}

// CaptureRecord is one ledger row describing a completed capture.
type CaptureRecord struct {
	ID          string
	SourceURL   string
	ResponseURL string
	Filename    string
	ContentType string
	Size        int
	SHA256      string
	Sink        string
	ObjectID    string
	ViewURL     string
	CapturedAt  time.Time
}

// Ledger records completed captures.
type Ledger interface {
	RecordCapture(ctx context.Context, rec CaptureRecord) error
	Close()
}

// ObjectKey joins prefix and filename into a slash-separated object key.
func ObjectKey(prefix, filename string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return filename
	}
	return path.Join(prefix, filename)
}
