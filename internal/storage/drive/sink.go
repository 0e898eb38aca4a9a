// Package drive uploads captured files to Google Drive on behalf of the
// authorized user.
package drive

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pdf-capture-service/internal/storage"
)

// Config selects the destination folder. An empty FolderID uploads to the
// root of the user's Drive.
type Config struct {
	FolderID string
}

// Sink creates one Drive file per upload.
type Sink struct {
	svc      *drive.Service
	folderID string
}

// New builds a Drive client that authenticates with ts.
func New(ctx context.Context, ts oauth2.TokenSource, cfg Config) (*Sink, error) {
	if ts == nil {
		return nil, fmt.Errorf("token source is required")
	}
	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return NewWithService(svc, cfg)
}

// NewWithService wraps an existing Drive service.
func NewWithService(svc *drive.Service, cfg Config) (*Sink, error) {
	if svc == nil {
		return nil, fmt.Errorf("drive service is required")
	}
	return &Sink{svc: svc, folderID: cfg.FolderID}, nil
}

// Name identifies the sink in metrics and responses.
func (s *Sink) Name() string { return "drive" }

// Upload creates a file named filename and returns its id and web view link.
func (s *Sink) Upload(ctx context.Context, filename, mimeType string, data []byte) (storage.Object, error) {
	if strings.TrimSpace(filename) == "" {
		return storage.Object{}, fmt.Errorf("filename is required")
	}
	meta := &drive.File{Name: filename, MimeType: mimeType}
	if s.folderID != "" {
		meta.Parents = []string{s.folderID}
	}
	created, err := s.svc.Files.Create(meta).
		Media(bytes.NewReader(data)).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return storage.Object{}, fmt.Errorf("create drive file: %w", err)
	}
	return storage.Object{ID: created.Id, ViewURL: created.WebViewLink}, nil
}
