package capture

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/pdf-capture-service/internal/progress"
)

type fakeEndpoint struct {
	mu       sync.Mutex
	session  *fakeSession
	err      error
	connects int
}

func (e *fakeEndpoint) Connect(context.Context) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connects++
	if e.err != nil {
		return nil, e.err
	}
	return e.session, nil
}

type subscriber struct {
	mu      sync.Mutex
	fn      func(Response)
	removed bool
}

// fakeSession scripts a page: its elements, what the click triggers, and
// which responses arrive without any click.
type fakeSession struct {
	mu            sync.Mutex
	subs          map[int]*subscriber
	nextSub       int
	blockNavigate bool
	navigateErr   error
	navigated     []string
	elements      []Element
	snapshotErr   error
	clickErr      error
	panicOnEval   bool
	clicked       []int
	evaluations   int
	onClick       []Response
	onArm         []Response
	closes        int
	wg            sync.WaitGroup
}

func newFakeSession() *fakeSession {
	return &fakeSession{subs: make(map[int]*subscriber)}
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.navigated = append(s.navigated, url)
	block, err := s.blockNavigate, s.navigateErr
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *fakeSession) OnResponse(fn func(Response)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	sub := &subscriber{fn: fn}
	s.subs[id] = sub
	arm := append([]Response(nil), s.onArm...)
	s.mu.Unlock()

	if len(arm) > 0 {
		s.deliverAsync(arm, 10*time.Millisecond)
	}
	return func() {
		sub.mu.Lock()
		sub.removed = true
		sub.mu.Unlock()
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *fakeSession) Evaluate(_ context.Context, fn string, out any) error {
	s.mu.Lock()
	s.evaluations++
	panicking := s.panicOnEval
	s.mu.Unlock()
	if panicking {
		panic("evaluate exploded")
	}
	if fn == snapshotScript {
		if s.snapshotErr != nil {
			return s.snapshotErr
		}
		raw, err := json.Marshal(s.elements)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, out)
	}
	for _, el := range s.elements {
		if fn == clickScript(el.Index) {
			s.mu.Lock()
			s.clicked = append(s.clicked, el.Index)
			clickErr := s.clickErr
			responses := append([]Response(nil), s.onClick...)
			s.mu.Unlock()
			if clickErr != nil {
				return clickErr
			}
			s.deliverAsync(responses, 0)
			return nil
		}
	}
	return errors.New("unexpected script")
}

func (s *fakeSession) Close() error {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// emit delivers responses synchronously in order to every live subscriber.
func (s *fakeSession) emit(responses ...Response) {
	for _, resp := range responses {
		s.mu.Lock()
		subs := make([]*subscriber, 0, len(s.subs))
		for i := 0; i < s.nextSub; i++ {
			if sub, ok := s.subs[i]; ok {
				subs = append(subs, sub)
			}
		}
		s.mu.Unlock()
		for _, sub := range subs {
			sub.mu.Lock()
			if !sub.removed {
				sub.fn(resp)
			}
			sub.mu.Unlock()
		}
	}
}

func (s *fakeSession) deliverAsync(responses []Response, delay time.Duration) {
	if len(responses) == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		time.Sleep(delay)
		s.emit(responses...)
	}()
}

func (s *fakeSession) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *fakeSession) clicks() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.clicked...)
}

type fakeResponse struct {
	url     string
	header  http.Header
	body    []byte
	bodyErr error
	reads   int
	mu      sync.Mutex
}

func newFakeResponse(url string, body []byte, kv ...string) *fakeResponse {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return &fakeResponse{url: url, header: h, body: body}
}

func (r *fakeResponse) URL() string         { return r.url }
func (r *fakeResponse) Header() http.Header { return r.header }

func (r *fakeResponse) Body(context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.bodyErr != nil {
		return nil, r.bodyErr
	}
	return append([]byte(nil), r.body...), nil
}

func (r *fakeResponse) readCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

func pdfResponse(url string, size int) *fakeResponse {
	return newFakeResponse(url, []byte(strings.Repeat("%", size)), "Content-Type", "application/pdf")
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}
