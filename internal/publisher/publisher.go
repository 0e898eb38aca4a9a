// Package publisher announces completed captures to downstream consumers.
package publisher

import (
	"context"
	"time"
)

// CaptureCompleted is the payload of a completion notice.
type CaptureCompleted struct {
	CaptureID   string    `json:"capture_id"`
	SourceURL   string    `json:"source_url"`
	ResponseURL string    `json:"response_url"`
	Filename    string    `json:"filename"`
	Size        int       `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
	Uploaded    bool      `json:"uploaded"`
	Sink        string    `json:"sink,omitempty"`
	ObjectID    string    `json:"object_id,omitempty"`
	ViewURL     string    `json:"view_url,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Publisher sends completion notices. It returns the broker message ID.
type Publisher interface {
	PublishCapture(ctx context.Context, evt CaptureCompleted) (string, error)
}
