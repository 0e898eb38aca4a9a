package capture

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// fileContentTypes are substrings of Content-Type values that mark a PDF or
// a generic binary download.
var fileContentTypes = []string{"pdf", "octet-stream", "force-download"}

// Matches reports whether response headers describe a downloadable file.
func Matches(h http.Header) bool {
	contentType := strings.ToLower(h.Get("Content-Type"))
	for _, marker := range fileContentTypes {
		if strings.Contains(contentType, marker) {
			return true
		}
	}
	disposition := strings.ToLower(h.Get("Content-Disposition"))
	return strings.Contains(disposition, "attachment")
}

// Result is delivered once by a Watcher.
type Result struct {
	Response CapturedResponse
	Err      error
}

// Watcher inspects every response on a session and delivers the first file.
type Watcher struct {
	matched     atomic.Bool
	results     chan Result
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	stopOnce    sync.Once
}

// Watch registers a Watcher on session. The listener is live when Watch
// returns; callers must Stop it.
func Watch(session Session) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		results: make(chan Result, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	w.unsubscribe = session.OnResponse(w.observe)
	return w
}

// Results yields at most one Result.
func (w *Watcher) Results() <-chan Result {
	return w.results
}

// Stop aborts a pending body read and deregisters the listener. When Stop
// returns no further responses are observed.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
	})
}

func (w *Watcher) observe(resp Response) {
	if w.matched.Load() {
		return
	}
	header := resp.Header()
	if !Matches(header) {
		return
	}
	if !w.matched.CompareAndSwap(false, true) {
		return
	}
	body, err := resp.Body(w.ctx)
	if err != nil {
		w.results <- Result{Err: &Error{
			Kind: KindWatcher,
			Err:  fmt.Errorf("read body of %s: %w", resp.URL(), err),
		}}
		return
	}
	w.results <- Result{Response: CapturedResponse{
		Bytes:             body,
		SourceResponseURL: resp.URL(),
		ContentType:       header.Get("Content-Type"),
	}}
}
