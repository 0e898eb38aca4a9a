package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pdf-capture-service/internal/metrics"
	"github.com/JakeFAU/pdf-capture-service/internal/progress"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultCaptureTimeout    = 30 * time.Second
	// DefaultSettleDelay gives client-side rendering time to attach handlers
	// after the network goes idle.
	DefaultSettleDelay = time.Second
)

// Config tunes an Orchestrator.
type Config struct {
	SettleDelay  time.Duration
	ClickTimeout time.Duration
}

// Orchestrator runs one capture per call against a remote browser.
type Orchestrator struct {
	endpoint Endpoint
	resolver *Resolver
	settle   time.Duration
	progress progress.Emitter
	logger   *zap.Logger
}

// NewOrchestrator wires an Orchestrator. emitter and logger may be nil.
func NewOrchestrator(endpoint Endpoint, cfg Config, emitter progress.Emitter, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Orchestrator{
		endpoint: endpoint,
		resolver: NewResolver(cfg.ClickTimeout, logger.Named("resolver")),
		settle:   cfg.SettleDelay,
		progress: emitter,
		logger:   logger,
	}
}

// Capture opens a session, navigates to sourceURL, clicks the most likely
// download control and returns the first file response seen before
// captureTimeout. The session is released before Capture returns on every
// path. Cancellation of ctx is ignored once Capture starts.
func (o *Orchestrator) Capture(
	ctx context.Context,
	sourceURL string,
	navTimeout time.Duration,
	captureTimeout time.Duration,
) (CapturedResponse, error) {
	ctx = context.WithoutCancel(ctx)
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	if captureTimeout <= 0 {
		captureTimeout = defaultCaptureTimeout
	}
	logger := o.logger.With(zap.String("source_url", sourceURL))

	session, err := o.endpoint.Connect(ctx)
	if err != nil {
		return CapturedResponse{}, &Error{Kind: KindSessionConnect, Err: err}
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("session release failed", zap.Error(cerr))
		}
		logger.Debug("session released")
	}()

	start := time.Now()
	if err := o.navigate(ctx, session, sourceURL, navTimeout); err != nil {
		return CapturedResponse{}, err
	}
	o.emit(ctx, progress.StageNavigated, sourceURL, time.Since(start), "")
	logger.Debug("navigation finished", zap.Duration("elapsed", time.Since(start)))

	if o.settle > 0 {
		time.Sleep(o.settle)
	}

	watcher := Watch(session)
	defer watcher.Stop()

	outcome := o.resolver.Resolve(ctx, session)
	o.logOutcome(logger, outcome)
	o.emit(ctx, progress.StageClick, sourceURL, 0, string(outcome.Status))
	metrics.ObserveClick(string(outcome.Status), string(outcome.Strategy))

	timer := time.NewTimer(captureTimeout)
	defer timer.Stop()

	select {
	case res := <-watcher.Results():
		if res.Err != nil {
			return CapturedResponse{}, res.Err
		}
		logger.Info("file response captured",
			zap.String("response_url", res.Response.SourceResponseURL),
			zap.String("content_type", res.Response.ContentType),
			zap.Int("bytes", res.Response.Size()),
		)
		return res.Response, nil
	case <-timer.C:
		return CapturedResponse{}, &Error{
			Kind: KindCaptureTimeout,
			Err:  fmt.Errorf("no file response within %s", captureTimeout),
		}
	}
}

func (o *Orchestrator) navigate(ctx context.Context, session Session, sourceURL string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := session.Navigate(navCtx, sourceURL)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return &Error{
			Kind: KindNavigationTimeout,
			Err:  fmt.Errorf("navigate %s: not idle within %s: %w", sourceURL, timeout, err),
		}
	}
	return &Error{Kind: KindNavigation, Err: fmt.Errorf("navigate %s: %w", sourceURL, err)}
}

func (o *Orchestrator) logOutcome(logger *zap.Logger, outcome ClickOutcome) {
	fields := []zap.Field{
		zap.String("status", string(outcome.Status)),
		zap.String("strategy", string(outcome.Strategy)),
	}
	if outcome.Element != nil {
		fields = append(fields,
			zap.Int("element_index", outcome.Element.Index),
			zap.String("element_tag", outcome.Element.Tag),
			zap.String("element_text", outcome.Element.Text),
		)
	}
	switch outcome.Status {
	case ClickStatusClickFailed:
		logger.Warn("click failed", append(fields, zap.String("reason", outcome.Reason))...)
	case ClickStatusNoTargetFound:
		logger.Info("no click target found, waiting for a response anyway", fields...)
	default:
		logger.Info("clicked download target", fields...)
	}
}

func (o *Orchestrator) emit(ctx context.Context, stage progress.Stage, sourceURL string, dur time.Duration, note string) {
	id := progress.CaptureIDFrom(ctx)
	if id == "" {
		return
	}
	o.progress.Emit(progress.Event{
		CaptureID: id,
		TS:        time.Now().UTC(),
		Stage:     stage,
		Site:      metrics.SanitizeSite(sourceURL),
		URL:       sourceURL,
		Dur:       dur,
		Note:      note,
	})
}
