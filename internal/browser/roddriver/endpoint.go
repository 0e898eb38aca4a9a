// Package roddriver connects capture sessions to a remote Chrome using
// go-rod.
package roddriver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdf-capture-service/internal/browser"
	"github.com/JakeFAU/pdf-capture-service/internal/capture"
)

const (
	defaultConnectTimeout = 30 * time.Second
	resumeTimeout         = 5 * time.Second
)

// Config controls the rod endpoint.
type Config struct {
	// URL is the DevTools websocket endpoint, token included.
	URL             string
	UserAgent       string
	ConnectTimeout  time.Duration
	IdleMaxInflight int
	IdleWindow      time.Duration
}

// Endpoint implements capture.Endpoint with go-rod.
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

// Connect dials the browser, opens a blank page and enables response
// interception on it.
func (e *Endpoint) Connect(ctx context.Context) (capture.Session, error) {
	release, err := e.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &session{
		ctx:        sessCtx,
		cancel:     sessCancel,
		release:    release,
		dispatcher: browser.NewDispatcher(e.logger),
		idle:       browser.NewIdleTracker(e.cfg.IdleMaxInflight, e.cfg.IdleWindow),
		logger:     e.logger,
	}

	connectCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- s.open(e.cfg.URL, e.cfg.UserAgent)
	}()
	select {
	case err = <-errc:
	case <-connectCtx.Done():
		sessCancel()
		<-errc
		err = connectCtx.Err()
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	e.logger.Debug("browser session opened")
	return s, nil
}

type session struct {
	ctx        context.Context
	cancel     context.CancelFunc
	release    func()
	browser    *rod.Browser
	page       *rod.Page
	dispatcher *browser.Dispatcher
	idle       *browser.IdleTracker
	logger     *zap.Logger
	events     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

func (s *session) open(controlURL, userAgent string) error {
	b := rod.New().ControlURL(controlURL).Context(s.ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("rod connect: %w", err)
	}
	s.browser = b

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	s.page = page

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	patterns := []*proto.FetchRequestPattern{{URLPattern: "*", RequestStage: proto.FetchRequestStageResponse}}
	if err := (proto.FetchEnable{Patterns: patterns}).Call(page); err != nil {
		return fmt.Errorf("enable fetch domain: %w", err)
	}
	if userAgent != "" {
		if err := (proto.NetworkSetUserAgentOverride{UserAgent: userAgent}).Call(page); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
	}

	wait := page.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) { s.idle.Start(string(e.RequestID)) },
		func(e *proto.NetworkLoadingFinished) { s.idle.Finish(string(e.RequestID)) },
		func(e *proto.NetworkLoadingFailed) { s.idle.Finish(string(e.RequestID)) },
		s.paused,
	)
	s.events.Add(1)
	go func() {
		defer s.events.Done()
		wait()
	}()
	return nil
}

func (s *session) paused(e *proto.FetchRequestPaused) {
	id := e.RequestID
	url := ""
	if e.Request != nil {
		url = e.Request.URL
	}
	header := browser.HeaderFromPairs(e.ResponseHeaders, func(h *proto.FetchHeaderEntry) (string, string) {
		return h.Name, h.Value
	})
	resp := browser.NewResponse(url, header, func(ctx context.Context) ([]byte, error) {
		return s.responseBody(ctx, id)
	})
	s.dispatcher.Push(resp, func() { s.resume(id) })
}

func (s *session) responseBody(ctx context.Context, id proto.FetchRequestID) ([]byte, error) {
	if s.page == nil {
		return nil, errors.New("page is not open")
	}
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	res, err := proto.FetchGetResponseBody{RequestID: id}.Call(s.page.Context(callCtx))
	if err != nil {
		return nil, fmt.Errorf("get response body: %w", err)
	}
	return decodeBody(res.Body, res.Base64Encoded)
}

func decodeBody(body string, base64Encoded bool) ([]byte, error) {
	if !base64Encoded {
		return []byte(body), nil
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return data, nil
}

func (s *session) resume(id proto.FetchRequestID) {
	if s.page == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, resumeTimeout)
	defer cancel()
	err := proto.FetchContinueRequest{RequestID: id}.Call(s.page.Context(ctx))
	if err != nil && s.ctx.Err() == nil {
		s.logger.Debug("resume paused request failed", zap.String("request_id", string(id)), zap.Error(err))
	}
}

// callContext derives a session context that also ends with ctx.
func (s *session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancel(s.ctx)
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

	page := s.page.Context(callCtx)
	if err := page.Navigate(url); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("rod navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("wait for load: %w", err)
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

	res, err := s.page.Context(callCtx).Evaluate(&rod.EvalOptions{
		JS:           fn,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode evaluate result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

// Close closes the page and the browser connection. It is safe to call more
// than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if s.page != nil {
			if err := s.page.Close(); err != nil && s.ctx.Err() == nil {
				s.closeErr = fmt.Errorf("close page: %w", err)
			}
		}
		if s.browser != nil {
			if err := s.browser.Close(); err != nil && s.closeErr == nil && s.ctx.Err() == nil {
				s.closeErr = fmt.Errorf("close browser: %w", err)
			}
		}
		s.cancel()
		s.events.Wait()
		s.dispatcher.Close()
		if s.release != nil {
			s.release()
		}
	})
	return s.closeErr
}
