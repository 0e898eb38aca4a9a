// Package capture drives a remote browser page until it hands over a file.
//
// An Orchestrator owns one Session per call: it navigates, arms a Watcher on
// the session's network responses, lets the Resolver click the most likely
// download control, and waits for the first response that looks like a file.
package capture

import (
	"context"
	"net/http"
)

// Endpoint opens browser sessions on a remote automation endpoint.
type Endpoint interface {
	Connect(ctx context.Context) (Session, error)
}

// Session is one page within a remote browser connection.
//
// OnResponse callbacks run sequentially in the order responses arrive. The
// body of a Response is only guaranteed to be readable while its callback is
// running. The returned cancel func blocks until an in-flight callback
// returns and must not be called from inside a callback.
type Session interface {
	Navigate(ctx context.Context, url string) error
	OnResponse(fn func(Response)) (cancel func())
	// Evaluate runs a JavaScript function expression in the page and decodes
	// its JSON result into out. out may be nil.
	Evaluate(ctx context.Context, fn string, out any) error
	Close() error
}

// Response is a network response observed on a Session.
type Response interface {
	URL() string
	Header() http.Header
	Body(ctx context.Context) ([]byte, error)
}
