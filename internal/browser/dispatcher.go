// Package browser holds the driver-neutral plumbing shared by the chromedp
// and rod endpoints: ordered listener delivery, network idle tracking,
// session admission and header conversion.
package browser

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/pdf-capture-service/internal/capture"
)

// Response is a capture.Response whose body is fetched lazily through the
// driver while the underlying request is paused.
type Response struct {
	url    string
	header http.Header
	body   func(context.Context) ([]byte, error)
}

// NewResponse builds a Response. body is only valid until the dispatcher
// resumes the request.
func NewResponse(url string, header http.Header, body func(context.Context) ([]byte, error)) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{url: url, header: header, body: body}
}

// URL returns the response URL.
func (r *Response) URL() string { return r.url }

// Header returns the response headers.
func (r *Response) Header() http.Header { return r.header }

// Body reads the full response body.
func (r *Response) Body(ctx context.Context) ([]byte, error) {
	if r.body == nil {
		return nil, nil
	}
	return r.body(ctx)
}

type pending struct {
	resp  capture.Response
	after func()
}

type subscriber struct {
	mu      sync.Mutex
	fn      func(capture.Response)
	removed bool
}

// Dispatcher delivers responses to subscribers one at a time, in the order
// they were pushed, from a single goroutine. Push never blocks, so it is
// safe to call from a driver's event listener.
type Dispatcher struct {
	logger *zap.Logger

	mu     sync.Mutex
	queue  []pending
	subs   map[int]*subscriber
	order  []int
	nextID int
	closed bool

	signal chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDispatcher starts a dispatcher goroutine. Close stops it.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		logger: logger,
		subs:   make(map[int]*subscriber),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Subscribe registers fn and returns its cancel func. Cancel blocks until an
// in-flight call to fn returns, so it must not be called from inside fn.
func (d *Dispatcher) Subscribe(fn func(capture.Response)) func() {
	sub := &subscriber{fn: fn}
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = sub
	d.order = append(d.order, id)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.mu.Lock()
			sub.removed = true
			sub.mu.Unlock()

			d.mu.Lock()
			delete(d.subs, id)
			for i, v := range d.order {
				if v == id {
					d.order = append(d.order[:i], d.order[i+1:]...)
					break
				}
			}
			d.mu.Unlock()
		})
	}
}

// Subscribers reports the number of live subscribers.
func (d *Dispatcher) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Push queues resp for delivery. after, when non-nil, runs once every
// subscriber has seen resp; drivers use it to resume the paused request.
// Pushes after Close are dropped.
func (d *Dispatcher) Push(resp capture.Response, after func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, pending{resp: resp, after: after})
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// Close stops the dispatcher goroutine and waits for it. Queued responses
// that were not yet delivered are discarded.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.queue = nil
		d.mu.Unlock()
		close(d.done)
	})
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case <-d.signal:
		}
		for {
			item, ok := d.pop()
			if !ok {
				break
			}
			d.deliver(item)
		}
	}
}

func (d *Dispatcher) pop() (pending, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.queue) == 0 {
		return pending{}, false
	}
	item := d.queue[0]
	d.queue[0] = pending{}
	d.queue = d.queue[1:]
	return item, true
}

func (d *Dispatcher) deliver(item pending) {
	d.mu.Lock()
	subs := make([]*subscriber, 0, len(d.order))
	for _, id := range d.order {
		subs = append(subs, d.subs[id])
	}
	d.mu.Unlock()

	for _, sub := range subs {
		d.invoke(sub, item.resp)
	}
	if item.after != nil {
		item.after()
	}
}

func (d *Dispatcher) invoke(sub *subscriber, resp capture.Response) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.removed {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("response listener panicked",
				zap.String("url", resp.URL()),
				zap.Any("panic", rec),
			)
		}
	}()
	sub.fn(resp)
}
