// Package credential keeps the OAuth token the service uses to reach the
// storage sink and, when required, to gate captures.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned when no token has been stored yet.
var ErrNoToken = errors.New("no oauth token stored")

// Store is a concurrency-safe holder for one OAuth token.
type Store struct {
	mu    sync.RWMutex
	token *oauth2.Token
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// NewStoreFromRefreshToken seeds a Store with a refresh-only token. The
// access token is minted on first use by the oauth2 token source.
func NewStoreFromRefreshToken(refreshToken string) *Store {
	s := NewStore()
	if refreshToken != "" {
		s.token = &oauth2.Token{RefreshToken: refreshToken}
	}
	return s
}

// Get returns a copy of the current token.
func (s *Store) Get() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil, ErrNoToken
	}
	tok := *s.token
	return &tok, nil
}

// Set replaces the stored token. A token without a refresh token keeps the
// previously stored one.
func (s *Store) Set(tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("token is nil")
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return errors.New("token carries neither access nor refresh token")
	}
	cp := *tok
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp.RefreshToken == "" && s.token != nil {
		cp.RefreshToken = s.token.RefreshToken
	}
	s.token = &cp
	return nil
}

// IsAuthorized reports whether a usable token is stored.
func (s *Store) IsAuthorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return false
	}
	return s.token.RefreshToken != "" || s.token.Valid()
}

// TokenSource returns an oauth2.TokenSource that refreshes through cfg and
// writes refreshed tokens back to the store.
func (s *Store) TokenSource(ctx context.Context, cfg *oauth2.Config) oauth2.TokenSource {
	return &storeSource{ctx: ctx, cfg: cfg, store: s}
}

type storeSource struct {
	ctx   context.Context
	cfg   *oauth2.Config
	store *Store
}

func (ts *storeSource) Token() (*oauth2.Token, error) {
	current, err := ts.store.Get()
	if err != nil {
		return nil, err
	}
	if current.Valid() {
		return current, nil
	}
	if current.RefreshToken == "" || ts.cfg == nil {
		return nil, errors.New("stored token expired and cannot be refreshed")
	}
	fresh, err := ts.cfg.TokenSource(ts.ctx, current).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh oauth token: %w", err)
	}
	if err := ts.store.Set(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}
