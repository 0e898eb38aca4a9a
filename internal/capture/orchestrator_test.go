package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdf-capture-service/internal/progress"
)

func newTestOrchestrator(endpoint Endpoint, emitter progress.Emitter) *Orchestrator {
	return NewOrchestrator(endpoint, Config{SettleDelay: 0, ClickTimeout: time.Second}, emitter, zap.NewNop())
}

func TestCaptureSuccessReleasesSessionOnce(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.elements = []Element{
		{Index: 0, Tag: "a", Text: "Home", Visible: true},
		{Index: 1, Tag: "button", Text: "Download CV", Visible: true},
	}
	session.onClick = []Response{pdfResponse("https://files.example.com/cv", 12345)}
	endpoint := &fakeEndpoint{session: session}
	emitter := &recordingEmitter{}

	ctx := progress.WithCaptureID(context.Background(), "cap-1")
	got, err := newTestOrchestrator(endpoint, emitter).Capture(ctx, "https://example.com/doc", time.Second, time.Second)

	require.NoError(t, err)
	require.Equal(t, 12345, got.Size())
	require.Equal(t, "https://files.example.com/cv", got.SourceResponseURL)
	require.Equal(t, "application/pdf", got.ContentType)
	require.Equal(t, 1, session.closeCount())
	require.Zero(t, session.listenerCount())
	require.Equal(t, []int{1}, session.clicks())
	require.Equal(t, []string{"https://example.com/doc"}, session.navigated)
	require.Equal(t, []progress.Stage{progress.StageNavigated, progress.StageClick}, emitter.stages())
}

func TestCaptureNoResidualDeliveryAfterReturn(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.elements = []Element{{Index: 0, Tag: "button", Text: "Download", Visible: true}}
	first := pdfResponse("https://example.com/a.pdf", 10)
	session.onClick = []Response{first}
	endpoint := &fakeEndpoint{session: session}

	_, err := newTestOrchestrator(endpoint, nil).Capture(context.Background(), "https://example.com", time.Second, time.Second)
	require.NoError(t, err)

	late := pdfResponse("https://example.com/late.pdf", 10)
	session.emit(late)
	require.Zero(t, late.readCount())
	require.Equal(t, 1, first.readCount())
}

func TestCaptureTimeoutProducesNoCapture(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.elements = []Element{{Index: 0, Tag: "button", Text: "Download", Visible: true}}
	session.onClick = []Response{
		newFakeResponse("https://example.com/page", []byte("<html>"), "Content-Type", "text/html"),
	}
	endpoint := &fakeEndpoint{session: session}

	start := time.Now()
	got, err := newTestOrchestrator(endpoint, nil).Capture(
		context.Background(), "https://example.com", time.Second, 50*time.Millisecond,
	)

	require.Error(t, err)
	require.Equal(t, KindCaptureTimeout, KindOf(err))
	require.Equal(t, CapturedResponse{}, got)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 1, session.closeCount())
	require.Zero(t, session.listenerCount())
}

func TestCaptureNavigationTimeoutReleasesSession(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.blockNavigate = true
	endpoint := &fakeEndpoint{session: session}

	_, err := newTestOrchestrator(endpoint, nil).Capture(
		context.Background(), "https://example.com/slow", 30*time.Millisecond, time.Second,
	)

	require.Error(t, err)
	require.Equal(t, KindNavigationTimeout, KindOf(err))
	require.ErrorIs(t, err, &Error{Kind: KindNavigationTimeout})
	require.Equal(t, 1, session.closeCount())
	require.Zero(t, session.evaluations)
	require.Zero(t, session.listenerCount())
}

func TestCaptureNavigationErrorIsNotTimeout(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.navigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	endpoint := &fakeEndpoint{session: session}

	_, err := newTestOrchestrator(endpoint, nil).Capture(context.Background(), "https://nope.invalid", time.Second, time.Second)

	require.Equal(t, KindNavigation, KindOf(err))
	require.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
	require.Equal(t, 1, session.closeCount())
}

func TestCaptureConnectError(t *testing.T) {
	t.Parallel()

	endpoint := &fakeEndpoint{err: errors.New("dial tcp: connection refused")}

	_, err := newTestOrchestrator(endpoint, nil).Capture(context.Background(), "https://example.com", time.Second, time.Second)

	require.Equal(t, KindSessionConnect, KindOf(err))
	require.Equal(t, 1, endpoint.connects)
}

func TestCaptureNoTargetStillAwaitsWatcher(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.elements = []Element{{Index: 0, Tag: "a", Text: "hidden", Visible: false}}
	session.onArm = []Response{
		newFakeResponse("https://example.com/auto", []byte("%PDF-1.7"), "Content-Disposition", "attachment; filename=x.pdf"),
	}
	endpoint := &fakeEndpoint{session: session}

	got, err := newTestOrchestrator(endpoint, nil).Capture(context.Background(), "https://example.com", time.Second, time.Second)

	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.7"), got.Bytes)
	require.Empty(t, session.clicks())
	require.Equal(t, 1, session.closeCount())
}

func TestCaptureClickFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.elements = []Element{{Index: 0, Tag: "button", Text: "Download", Visible: true}}
	session.clickErr = errors.New("element 0 is no longer attached")
	session.onArm = []Response{pdfResponse("https://example.com/cv.pdf", 64)}
	endpoint := &fakeEndpoint{session: session}

	got, err := newTestOrchestrator(endpoint, nil).Capture(context.Background(), "https://example.com", time.Second, time.Second)

	require.NoError(t, err)
	require.Equal(t, 64, got.Size())
	require.Equal(t, 1, session.closeCount())
}

func TestCaptureWatcherErrorSurfaces(t *testing.T) {
	t.Parallel()

	broken := pdfResponse("https://example.com/broken.pdf", 10)
	broken.bodyErr = errors.New("No resource with given identifier found")
	session := newFakeSession()
	session.elements = []Element{{Index: 0, Tag: "button", Text: "Download", Visible: true}}
	session.onClick = []Response{broken, pdfResponse("https://example.com/ok.pdf", 10)}
	endpoint := &fakeEndpoint{session: session}

	_, err := newTestOrchestrator(endpoint, nil).Capture(context.Background(), "https://example.com", time.Second, time.Second)

	require.Equal(t, KindWatcher, KindOf(err))
	require.Equal(t, 1, session.closeCount())
}

func TestCaptureIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.elements = []Element{{Index: 0, Tag: "button", Text: "Download", Visible: true}}
	session.onClick = []Response{pdfResponse("https://example.com/cv.pdf", 8)}
	endpoint := &fakeEndpoint{session: session}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := newTestOrchestrator(endpoint, nil).Capture(ctx, "https://example.com", time.Second, time.Second)

	require.NoError(t, err)
	require.Equal(t, 8, got.Size())
}
