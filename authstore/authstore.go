// Package authstore persists the YouTube OAuth token pair in a JSON file and
// exposes an oauth2.TokenSource that refreshes through the standard flow,
// writing rotated tokens back so a restart picks up the newest refresh token.
// The one-time interactive authorization that seeds the file lives in
// cmd/authsetup.
package authstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/onnwee/camlive/crypto"
)

// OAuthConfig builds the oauth2 config for the YouTube live scopes.
func OAuthConfig(clientID, clientSecret, redirectURI, scopes string) *oauth2.Config {
	s := strings.Fields(strings.ReplaceAll(scopes, ",", " "))
	if len(s) == 0 {
		s = []string{
			"https://www.googleapis.com/auth/youtube",
			"https://www.googleapis.com/auth/youtube.force-ssl",
		}
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURI,
		Scopes:       s,
	}
}

// Store is the token file. Reads return the latest persisted pair; Save
// replaces the file atomically with 0600 permissions (the refresh token is a
// long-lived credential).
type Store struct {
	path   string
	cipher *crypto.Cipher
	mu     sync.Mutex
}

func NewStore(path string) *Store { return &Store{path: path} }

// WithCipher enables at-rest encryption of the token file. Existing
// plaintext files are still readable; the next Save seals them.
func (s *Store) WithCipher(c *crypto.Cipher) *Store {
	s.cipher = c
	return s
}

// ErrNoToken means the store has never been seeded; run authsetup first.
var ErrNoToken = errors.New("no stored token: run authsetup to authorize")

func (s *Store) Load() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}
	if s.cipher != nil && !json.Valid(b) {
		b, err = s.cipher.Open(b)
		if err != nil {
			return nil, fmt.Errorf("unseal token file %s: %w", s.path, err)
		}
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", s.path, err)
	}
	if tok.RefreshToken == "" && tok.AccessToken == "" {
		return nil, ErrNoToken
	}
	return &tok, nil
}

func (s *Store) Save(tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if s.cipher != nil {
		if b, err = s.cipher.Seal(b); err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod token: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// persistingSource wraps the refreshing TokenSource and writes every rotated
// token back to the store.
type persistingSource struct {
	store *Store
	src   oauth2.TokenSource

	mu   sync.Mutex
	last *oauth2.Token
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	changed := p.last == nil || tok.AccessToken != p.last.AccessToken || tok.RefreshToken != p.last.RefreshToken
	p.last = tok
	p.mu.Unlock()
	if changed {
		if err := p.store.Save(tok); err != nil {
			slog.Warn("token persist failed", slog.Any("err", err))
		} else {
			slog.Info("token refreshed and persisted")
		}
	}
	return tok, nil
}

// TokenSource returns an auto-refreshing, auto-persisting source seeded from
// the stored token. A fallback refresh token from the environment is used
// when the store has not been seeded yet.
func (s *Store) TokenSource(ctx context.Context, cfg *oauth2.Config, fallbackRefreshToken string) (oauth2.TokenSource, error) {
	tok, err := s.Load()
	if err != nil {
		if !errors.Is(err, ErrNoToken) || fallbackRefreshToken == "" {
			return nil, err
		}
		tok = &oauth2.Token{RefreshToken: fallbackRefreshToken}
	}
	base := cfg.TokenSource(ctx, tok)
	return &persistingSource{store: s, src: base, last: tok}, nil
}
