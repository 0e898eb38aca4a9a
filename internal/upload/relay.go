// Package upload relays captured files to the configured storage sink.
package upload

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pdf-capture-service/internal/metrics"
	"github.com/JakeFAU/pdf-capture-service/internal/storage"
)

const defaultUploadTimeout = 60 * time.Second

// Authorizer reports whether the credentials a sink needs are present.
type Authorizer interface {
	IsAuthorized() bool
}

// Result describes what happened to the upload. It is part of the API
// response.
type Result struct {
	Uploaded bool   `json:"uploaded"`
	Sink     string `json:"sink,omitempty"`
	ID       string `json:"id,omitempty"`
	ViewURL  string `json:"viewURL,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Relay uploads captured bytes. It never fails the capture; problems are
// reported in Result.Reason.
type Relay struct {
	sink    storage.Sink
	auth    Authorizer
	timeout time.Duration
	logger  *zap.Logger
}

// NewRelay wires a Relay. sink may be nil to disable uploads; auth may be
// nil when the sink needs no user credential.
func NewRelay(sink storage.Sink, auth Authorizer, timeout time.Duration, logger *zap.Logger) *Relay {
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{sink: sink, auth: auth, timeout: timeout, logger: logger}
}

// Enabled reports whether a sink is configured.
func (r *Relay) Enabled() bool {
	return r != nil && r.sink != nil
}

// Relay uploads data as filename.
func (r *Relay) Relay(ctx context.Context, filename, mimeType string, data []byte) Result {
	if !r.Enabled() {
		return Result{Reason: "storage sink not configured"}
	}
	name := r.sink.Name()
	if r.auth != nil && !r.auth.IsAuthorized() {
		metrics.ObserveUpload(name, "unauthorized")
		return Result{Sink: name, Reason: "storage sink is not authorized; visit /auth"}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	obj, err := r.sink.Upload(ctx, filename, mimeType, data)
	if err != nil {
		metrics.ObserveUpload(name, "error")
		r.logger.Warn("upload failed",
			zap.String("sink", name),
			zap.String("filename", filename),
			zap.Error(err),
		)
		return Result{Sink: name, Reason: fmt.Sprintf("upload to %s failed: %v", name, err)}
	}
	metrics.ObserveUpload(name, "ok")
	r.logger.Info("upload complete",
		zap.String("sink", name),
		zap.String("object_id", obj.ID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Result{Uploaded: true, Sink: name, ID: obj.ID, ViewURL: obj.ViewURL}
}
