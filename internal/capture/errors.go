package capture

import (
	"errors"
	"fmt"
)

// Kind classifies capture failures.
type Kind string

// Failure kinds surfaced to callers.
const (
	KindSessionConnect    Kind = "SessionConnectError"
	KindNavigation        Kind = "NavigationError"
	KindNavigationTimeout Kind = "NavigationTimeout"
	KindCaptureTimeout    Kind = "CaptureTimeout"
	KindWatcher           Kind = "WatcherError"
	// KindUpload classifies sink failures for callers that treat them as
	// fatal. The download path reports them in upload.Result.Reason instead.
	KindUpload            Kind = "UploadError"
	KindUnauthorized      Kind = "UnauthorizedError"
	KindUnknown           Kind = "InternalError"
)

// ErrUnauthorized is returned by callers that short-circuit before a capture
// because no credential is available.
var ErrUnauthorized = &Error{Kind: KindUnauthorized, Err: errors.New("not authorized")}

// Error is a classified capture failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindUnknown when err is not classified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}
