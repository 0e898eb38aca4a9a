// Package chromedpdriver connects capture sessions to a remote Chrome over
// the DevTools protocol using chromedp.
package chromedpdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdf-capture-service/internal/browser"
	"github.com/JakeFAU/pdf-capture-service/internal/capture"
)

const (
	defaultConnectTimeout = 30 * time.Second
	resumeTimeout         = 5 * time.Second
)

// Config controls the chromedp endpoint.
type Config struct {
	// URL is the DevTools websocket endpoint, token included.
	URL             string
	UserAgent       string
	ConnectTimeout  time.Duration
	IdleMaxInflight int
	IdleWindow      time.Duration
}

// Endpoint implements capture.Endpoint against a remote browser.
type Endpoint struct {
	cfg    Config
	gate   *browser.Gate
	logger *zap.Logger
}

// New validates cfg and returns an Endpoint. gate may be nil.
func New(cfg Config, gate *browser.Gate, logger *zap.Logger) (*Endpoint, error) {
	if cfg.URL == "" {
		return nil, errors.New("browser endpoint url is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Endpoint{cfg: cfg, gate: gate, logger: logger}, nil
}

// Connect opens a new tab on the remote browser with response interception
// and network tracking enabled.
func (e *Endpoint) Connect(ctx context.Context) (capture.Session, error) {
	release, err := e.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), e.cfg.URL, chromedp.NoModifyURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	s := &session{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		release:     release,
		dispatcher:  browser.NewDispatcher(e.logger),
		idle:        browser.NewIdleTracker(e.cfg.IdleMaxInflight, e.cfg.IdleWindow),
		logger:      e.logger,
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	connectCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- chromedp.Run(tabCtx, setupAction(e.cfg.UserAgent))
	}()
	select {
	case err = <-errc:
	case <-connectCtx.Done():
		err = connectCtx.Err()
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	e.logger.Debug("browser session opened")
	return s, nil
}

func setupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		patterns := []*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageResponse}}
		if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
			return fmt.Errorf("enable fetch domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type session struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	release     func()
	dispatcher  *browser.Dispatcher
	idle        *browser.IdleTracker
	logger      *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// onEvent runs on chromedp's event loop and must not issue commands.
func (s *session) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		s.idle.Start(string(e.RequestID))
	case *network.EventLoadingFinished:
		s.idle.Finish(string(e.RequestID))
	case *network.EventLoadingFailed:
		s.idle.Finish(string(e.RequestID))
	case *fetch.EventRequestPaused:
		s.paused(e)
	}
}

func (s *session) paused(e *fetch.EventRequestPaused) {
	id := e.RequestID
	url := ""
	if e.Request != nil {
		url = e.Request.URL
	}
	header := browser.HeaderFromPairs(e.ResponseHeaders, func(h *fetch.HeaderEntry) (string, string) {
		return h.Name, h.Value
	})
	resp := browser.NewResponse(url, header, func(ctx context.Context) ([]byte, error) {
		return s.responseBody(ctx, id)
	})
	s.dispatcher.Push(resp, func() { s.resume(id) })
}

func (s *session) responseBody(ctx context.Context, id fetch.RequestID) ([]byte, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	var body []byte
	err := chromedp.Run(callCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = fetch.GetResponseBody(id).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get response body: %w", err)
	}
	return body, nil
}

func (s *session) resume(id fetch.RequestID) {
	ctx, cancel := context.WithTimeout(s.tabCtx, resumeTimeout)
	defer cancel()
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return fetch.ContinueRequest(id).Do(ctx)
	}))
	if err != nil && s.tabCtx.Err() == nil {
		s.logger.Debug("resume paused request failed", zap.String("request_id", string(id)), zap.Error(err))
	}
}

// callContext derives a tab context that also ends with ctx.
func (s *session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancel(s.tabCtx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		callCtx, cancelDeadline = context.WithDeadline(callCtx, deadline)
		parent := cancel
		cancel = func() {
			cancelDeadline()
			parent()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return callCtx, func() {
		stop()
		cancel()
	}
}

func (s *session) Navigate(ctx context.Context, url string) error {
	s.idle.Reset()
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	if err := chromedp.Run(callCtx, chromedp.Navigate(url)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("chromedp navigate: %w", err)
	}
	if err := s.idle.Wait(ctx); err != nil {
		return fmt.Errorf("wait for network idle: %w", err)
	}
	return nil
}

func (s *session) OnResponse(fn func(capture.Response)) func() {
	return s.dispatcher.Subscribe(fn)
}

func (s *session) Evaluate(ctx context.Context, fn string, out any) error {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	err := chromedp.Run(callCtx, chromedp.Evaluate("("+fn+")()", out, awaitPromise))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// Close closes the tab, stops delivery and frees the session slot. It is
// safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("close tab: %w", err)
		}
		s.tabCancel()
		s.dispatcher.Close()
		s.allocCancel()
		if s.release != nil {
			s.release()
		}
	})
	return s.closeErr
}
