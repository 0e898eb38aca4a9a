package progress

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Stage denotes the capture milestone an Event represents.
type Stage string

// Capture stages in the order they normally occur.
const (
	StageCaptureStart Stage = "CAPTURE_START"
	StageNavigated    Stage = "NAVIGATED"
	StageClick        Stage = "CLICK"
	StageCaptureDone  Stage = "CAPTURE_DONE"
	StageCaptureError Stage = "CAPTURE_ERROR"
)

// Event is one capture milestone.
type Event struct {
	// CaptureID correlates the events of one download request.
	CaptureID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site is the lowercase host of the source page.
	Site string
	URL  string
	// Bytes is the captured file size for CAPTURE_DONE.
	Bytes int64
	Dur   time.Duration
	// Note carries low-volume context such as the click outcome or error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CaptureID == "" {
		return errors.New("capture id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCaptureStart, StageNavigated, StageClick, StageCaptureDone, StageCaptureError:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

type captureIDKey struct{}

// WithCaptureID attaches the capture ID used to correlate emitted events.
func WithCaptureID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, captureIDKey{}, id)
}

// CaptureIDFrom returns the capture ID stored on ctx, or "".
func CaptureIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(captureIDKey{}).(string)
	return id
}
