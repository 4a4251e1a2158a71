// Package credential owns the single persisted OAuth token slot and the
// interactive authorization flow that fills it.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/oauth2"

	"github.com/evanshaw/triagemail/internal/fault"
)

// Store persists one token as JSON at a fixed path. Save and Refresh share
// a lock so a refresh in flight can never race an explicit save.
type Store struct {
	Path   string
	Logger *slog.Logger

	// Source produces a refreshing token source for an expired token.
	// Replaceable in tests; defaults to the oauth2 config's own source.
	Source func(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource

	mu sync.Mutex
}

// NewStore builds a store backed by path, refreshing through cfg.
func NewStore(path string, cfg *oauth2.Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Store{
		Path:   path,
		Logger: logger,
		Source: func(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
			return cfg.TokenSource(ctx, tok)
		},
	}
}

// Load reads the persisted token. A missing or corrupt slot is treated as
// absent, never as an error.
func (s *Store) Load() *oauth2.Token {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		s.Logger.Debug("ignoring unreadable credential slot", "path", s.Path, "error", err)
		return nil
	}
	return tok
}

// Save persists the token atomically: write a sibling temp file, then
// rename over the slot so concurrent readers see the old or new value,
// never a torn write.
func (s *Store) Save(tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(tok)
}

func (s *Store) saveLocked(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return &fault.PersistenceError{Path: s.Path, Err: err}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return &fault.PersistenceError{Path: s.Path, Err: err}
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		_ = os.Remove(tmp)
		return &fault.PersistenceError{Path: s.Path, Err: err}
	}
	return nil
}

// Valid reports whether tok can be attached to backend calls right now.
func (s *Store) Valid(tok *oauth2.Token) bool {
	return tok != nil && tok.Valid()
}

// Refresh performs one round trip to the identity backend and persists the
// result. It requires a refresh token; without one the caller must route to
// the authorization flow. Persist failure degrades to in-memory use of the
// fresh token rather than failing the refresh.
func (s *Store) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok == nil || tok.RefreshToken == "" {
		return nil, &fault.AuthError{Op: "refresh credential", Err: fmt.Errorf("no refresh token")}
	}
	fresh, err := s.Source(ctx, tok).Token()
	if err != nil {
		return nil, &fault.RefreshError{Err: err}
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := s.saveLocked(fresh); err != nil {
		s.Logger.Warn("credential refreshed but not persisted; continuing in memory", "error", err)
	}
	return fresh, nil
}

// Token resolves a usable credential: load the slot, refresh if expired but
// refreshable, otherwise report that authorization is required.
func (s *Store) Token(ctx context.Context) (*oauth2.Token, error) {
	tok := s.Load()
	if s.Valid(tok) {
		return tok, nil
	}
	if tok != nil && tok.RefreshToken != "" {
		return s.Refresh(ctx, tok)
	}
	return nil, &fault.AuthError{Op: "load credential"}
}
