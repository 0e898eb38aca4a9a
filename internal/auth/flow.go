// Package auth runs the OAuth consent flow that fills the credential store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/JakeFAU/pdf-capture-service/internal/credential"
)

const stateTTL = 10 * time.Minute

// ErrUnknownState is returned when a callback carries a state this flow did
// not issue, or one that expired.
var ErrUnknownState = errors.New("unknown or expired oauth state")

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Exchanger turns an authorization code into a token. *oauth2.Config
// satisfies it.
type Exchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// Flow issues consent URLs and completes callbacks.
type Flow struct {
	oauth Exchanger
	store *credential.Store
	now   func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
}

// OAuthConfig builds the Google oauth2 client config for cfg.
func OAuthConfig(cfg Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		Endpoint:     google.Endpoint,
	}
}

// NewFlow wires a Flow around an exchanger and the store it fills.
func NewFlow(oauth Exchanger, store *credential.Store) *Flow {
	return &Flow{
		oauth:  oauth,
		store:  store,
		now:    time.Now,
		states: make(map[string]time.Time),
	}
}

// Begin returns the consent URL to redirect the user to.
func (f *Flow) Begin() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	state := id.String()

	f.mu.Lock()
	now := f.now()
	for s, issued := range f.states {
		if now.Sub(issued) > stateTTL {
			delete(f.states, s)
		}
	}
	f.states[state] = now
	f.mu.Unlock()

	return f.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

// Complete validates state, exchanges code and stores the resulting token.
func (f *Flow) Complete(ctx context.Context, state, code string) error {
	if code == "" {
		return errors.New("authorization code is required")
	}
	f.mu.Lock()
	issued, ok := f.states[state]
	delete(f.states, state)
	f.mu.Unlock()
	if !ok || f.now().Sub(issued) > stateTTL {
		return ErrUnknownState
	}

	tok, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := f.store.Set(tok); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// Authorized reports whether the store holds a usable token.
func (f *Flow) Authorized() bool {
	return f.store.IsAuthorized()
}
