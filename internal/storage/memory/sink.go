// Package memory keeps captured files in-memory for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/pdf-capture-service/internal/storage"
)

// Sink stores uploads in-memory and returns pseudo URIs.
type Sink struct {
	mu   sync.RWMutex
	data map[string][]byte
	// Err, when set, fails every upload.
	Err error
}

// NewSink creates a new in-memory sink.
func NewSink() *Sink {
	return &Sink{data: make(map[string][]byte)}
}

// Name identifies the sink in metrics and responses.
func (s *Sink) Name() string { return "memory" }

// Upload stores a copy of data under filename.
func (s *Sink) Upload(_ context.Context, filename, _ string, data []byte) (storage.Object, error) {
	if filename == "" {
		return storage.Object{}, errors.New("filename is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return storage.Object{}, s.Err
	}
	s.data[filename] = append([]byte(nil), data...)
	return storage.Object{ID: fmt.Sprintf("memory://%s", filename)}, nil
}

// Get returns the stored bytes for filename.
func (s *Sink) Get(filename string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[filename]
	return data, ok
}
