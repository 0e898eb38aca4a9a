// Package download runs one download request end to end: admission,
// capture, upload relay, ledger and notification.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdf-capture-service/internal/capture"
	"github.com/JakeFAU/pdf-capture-service/internal/metrics"
	"github.com/JakeFAU/pdf-capture-service/internal/progress"
	"github.com/JakeFAU/pdf-capture-service/internal/publisher"
	"github.com/JakeFAU/pdf-capture-service/internal/storage"
	"github.com/JakeFAU/pdf-capture-service/internal/telemetry"
	"github.com/JakeFAU/pdf-capture-service/internal/upload"
)

const (
	// MimeType is reported for every captured file.
	MimeType          = "application/pdf"
	sideEffectTimeout = 10 * time.Second
)

// ErrInvalidURL rejects source URLs that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("sourceURL must be an absolute http or https URL")

// Capturer runs the browser part of a download.
type Capturer interface {
	Capture(ctx context.Context, sourceURL string, navTimeout, captureTimeout time.Duration) (capture.CapturedResponse, error)
}

// Limiter gates captures per source host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Hasher fingerprints captured bytes.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock stamps captures.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues capture IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Admission decides whether a source URL may be captured at all.
type Admission interface {
	Allow(rawURL string) error
}

// Authorizer reports whether the service holds a usable credential.
type Authorizer interface {
	IsAuthorized() bool
}

// Deps are the collaborators of a Service. Capturer, Hasher, Clock and IDs
// are required; the rest may be nil.
type Deps struct {
	Capturer  Capturer
	Admission Admission
	Limiter   Limiter
	Relay     *upload.Relay
	Ledger    storage.Ledger
	Publisher publisher.Publisher
	Progress  progress.Emitter
	Auth      Authorizer
	Hasher    Hasher
	Clock     Clock
	IDs       IDGenerator
}

// Config controls Service behavior.
type Config struct {
	NavigationTimeout time.Duration
	CaptureTimeout    time.Duration
	DefaultFilename   string
	// RequireAuth rejects downloads while Auth reports no credential.
	RequireAuth bool
}

// Result is a successful download.
type Result struct {
	CaptureID   string
	Filename    string
	Content     []byte
	MimeType    string
	ResponseURL string
	SHA256      string
	Storage     upload.Result
}

// Size is the captured file size in bytes.
func (r Result) Size() int { return len(r.Content) }

// Service executes download requests.
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Service.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	if deps.Capturer == nil {
		return nil, errors.New("capturer is required")
	}
	if deps.Hasher == nil || deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("hasher, clock and id generator are required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	if cfg.DefaultFilename == "" {
		cfg.DefaultFilename = capture.DefaultFilename
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, cfg: cfg, logger: logger}, nil
}

// ValidateSourceURL checks that raw is an absolute http(s) URL.
func ValidateSourceURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: sourceURL is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// Download captures the file behind sourceURL and relays it to storage.
// Upload, ledger and notification failures do not fail the download.
func (s *Service) Download(ctx context.Context, sourceURL string) (Result, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if err := ValidateSourceURL(sourceURL); err != nil {
		return Result{}, err
	}
	if s.deps.Admission != nil {
		if err := s.deps.Admission.Allow(sourceURL); err != nil {
			return Result{}, err
		}
	}
	if s.cfg.RequireAuth && s.deps.Auth != nil && !s.deps.Auth.IsAuthorized() {
		return Result{}, capture.ErrUnauthorized
	}
	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.Wait(ctx, sourceURL); err != nil {
			return Result{}, err
		}
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("capture id: %w", err)
	}
	ctx = progress.WithCaptureID(ctx, id)
	ctx, span := telemetry.Tracer().Start(ctx, "download.capture")
	defer span.End()
	span.SetAttributes(
		attribute.String("capture.id", id),
		attribute.String("capture.site", metrics.SanitizeSite(sourceURL)),
	)

	logger := s.logger.With(zap.String("capture_id", id), zap.String("source_url", sourceURL))
	filename := capture.ResolveFilename(sourceURL, s.cfg.DefaultFilename)
	s.emit(id, progress.StageCaptureStart, sourceURL, 0, 0, "")
	logger.Info("capture started", zap.String("filename", filename))

	start := time.Now()
	captured, err := s.deps.Capturer.Capture(ctx, sourceURL, s.cfg.NavigationTimeout, s.cfg.CaptureTimeout)
	elapsed := time.Since(start)
	if err != nil {
		kind := capture.KindOf(err)
		metrics.ObserveCapture(string(kind), elapsed, 0)
		s.emit(id, progress.StageCaptureError, sourceURL, 0, elapsed, string(kind))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		logger.Warn("capture failed", zap.String("category", string(kind)), zap.Duration("elapsed", elapsed), zap.Error(err))
		return Result{}, err
	}
	metrics.ObserveCapture("success", elapsed, captured.Size())
	s.emit(id, progress.StageCaptureDone, sourceURL, int64(captured.Size()), elapsed, captured.ContentType)
	span.SetAttributes(attribute.Int("capture.bytes", captured.Size()))

	digest, err := s.deps.Hasher.Hash(captured.Bytes)
	if err != nil {
		logger.Warn("hash captured file failed", zap.Error(err))
	}

	stored := s.deps.Relay.Relay(ctx, filename, MimeType, captured.Bytes)
	if !stored.Uploaded {
		logger.Warn("captured file not uploaded", zap.String("reason", stored.Reason))
	}

	result := Result{
		CaptureID:   id,
		Filename:    filename,
		Content:     captured.Bytes,
		MimeType:    MimeType,
		ResponseURL: captured.SourceResponseURL,
		SHA256:      digest,
		Storage:     stored,
	}
	s.record(ctx, logger, sourceURL, captured.ContentType, result)
	logger.Info("capture complete",
		zap.String("filename", filename),
		zap.Int("bytes", result.Size()),
		zap.Bool("uploaded", stored.Uploaded),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// record writes the ledger row and publishes the completion notice. Both
// outlive a disconnected caller.
func (s *Service) record(ctx context.Context, logger *zap.Logger, sourceURL, contentType string, res Result) {
	if s.deps.Ledger == nil && s.deps.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	now := s.deps.Clock.Now()
	if s.deps.Ledger != nil {
		err := s.deps.Ledger.RecordCapture(ctx, storage.CaptureRecord{
			ID:          res.CaptureID,
			SourceURL:   sourceURL,
			ResponseURL: res.ResponseURL,
			Filename:    res.Filename,
			ContentType: contentType,
			Size:        res.Size(),
			SHA256:      res.SHA256,
			Sink:        res.Storage.Sink,
			ObjectID:    res.Storage.ID,
			ViewURL:     res.Storage.ViewURL,
			CapturedAt:  now,
		})
		if err != nil {
			logger.Error("record capture failed", zap.Error(err))
		}
	}
	if s.deps.Publisher != nil {
		msgID, err := s.deps.Publisher.PublishCapture(ctx, publisher.CaptureCompleted{
			CaptureID:   res.CaptureID,
			SourceURL:   sourceURL,
			ResponseURL: res.ResponseURL,
			Filename:    res.Filename,
			Size:        res.Size(),
			SHA256:      res.SHA256,
			Uploaded:    res.Storage.Uploaded,
			Sink:        res.Storage.Sink,
			ObjectID:    res.Storage.ID,
			ViewURL:     res.Storage.ViewURL,
			CapturedAt:  now,
		})
		if err != nil {
			logger.Error("publish capture failed", zap.Error(err))
			return
		}
		logger.Debug("capture published", zap.String("message_id", msgID))
	}
}

func (s *Service) emit(id string, stage progress.Stage, sourceURL string, size int64, dur time.Duration, note string) {
	s.deps.Progress.Emit(progress.Event{
		CaptureID: id,
		TS:        s.deps.Clock.Now(),
		Stage:     stage,
		Site:      metrics.SanitizeSite(sourceURL),
		URL:       sourceURL,
		Bytes:     size,
		Dur:       dur,
		Note:      note,
	})
}
