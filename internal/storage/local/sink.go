// Package local implements a local filesystem sink.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/pdf-capture-service/internal/storage"
)

// Config captures the parameters for the local filesystem sink.
type Config struct {
	// BaseDir is the root directory where captured files are written.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Sink writes captured files to the local filesystem.
type Sink struct {
	baseDir string
}

// New creates a new local filesystem-backed sink.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Sink{baseDir: cfg.BaseDir}, nil
}

// Name identifies the sink in metrics and responses.
func (s *Sink) Name() string { return "local" }

// Upload writes data under the base directory and returns its file:// URI.
func (s *Sink) Upload(_ context.Context, filename, _ string, data []byte) (storage.Object, error) {
	if strings.TrimSpace(filename) == "" {
		return storage.Object{}, fmt.Errorf("filename is required")
	}

	fullPath := filepath.Join(s.baseDir, filename)

	// Clean the path and verify it's within baseDir to prevent path traversal.
	cleanBaseDir := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return storage.Object{}, fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return storage.Object{}, fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return storage.Object{}, fmt.Errorf("failed to write file: %w", err)
	}
	return storage.Object{ID: fullPath, ViewURL: "file://" + fullPath}, nil
}
