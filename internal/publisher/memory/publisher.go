// Package memory contains an in-memory publisher for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/pdf-capture-service/internal/publisher"
)

// Publisher stores published notices for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []publisher.CaptureCompleted
	// Err, when set, fails every publish.
	Err error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// PublishCapture records the notice and returns a pseudo ID.
func (p *Publisher) PublishCapture(_ context.Context, evt publisher.CaptureCompleted) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	p.messages = append(p.messages, evt)
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded notices.
func (p *Publisher) Messages() []publisher.CaptureCompleted {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]publisher.CaptureCompleted, len(p.messages))
	copy(out, p.messages)
	return out
}
