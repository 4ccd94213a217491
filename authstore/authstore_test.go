package authstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/camlive/crypto"
)

func TestLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "token.json"))
	if _, err := s.Load(); !errors.Is(err, ErrNoToken) {
		t.Errorf("err = %v, want ErrNoToken", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	s := NewStore(path)
	in := &oauth2.Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(time.Hour).UTC(),
	}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.AccessToken != "at" || out.RefreshToken != "rt" {
		t.Errorf("round trip lost token fields: %+v", out)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("token file mode = %o, want 600", info.Mode().Perm())
	}
}

func TestTokenSourceFallbackRefreshToken(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "token.json"))
	cfg := OAuthConfig("id", "secret", "http://localhost/cb", "")
	ts, err := s.TokenSource(context.Background(), cfg, "fallback-rt")
	if err != nil {
		t.Fatalf("TokenSource with fallback: %v", err)
	}
	if ts == nil {
		t.Fatal("nil token source")
	}

	// Without any seed the source cannot be built.
	s2 := NewStore(filepath.Join(t.TempDir(), "token.json"))
	if _, err := s2.TokenSource(context.Background(), cfg, ""); !errors.Is(err, ErrNoToken) {
		t.Errorf("err = %v, want ErrNoToken", err)
	}
}

func TestOAuthConfigScopes(t *testing.T) {
	cfg := OAuthConfig("id", "secret", "uri", "a,b c")
	if len(cfg.Scopes) != 3 {
		t.Errorf("scopes = %v", cfg.Scopes)
	}
	cfg = OAuthConfig("id", "secret", "uri", "")
	if len(cfg.Scopes) != 2 {
		t.Errorf("default scopes = %v", cfg.Scopes)
	}
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	cipher, err := crypto.NewCipher(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	path := filepath.Join(t.TempDir(), "token.json")
	s := NewStore(path).WithCipher(cipher)

	tok := &oauth2.Token{AccessToken: "at-secret", RefreshToken: "rt-secret"}
	if err := s.Save(tok); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if bytes.Contains(raw, []byte("rt-secret")) {
		t.Fatal("token file stores the refresh token in plaintext")
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.AccessToken != "at-secret" || got.RefreshToken != "rt-secret" {
		t.Errorf("round trip = %+v", got)
	}
}

// A store created before encryption was enabled still loads; the legacy
// plaintext file is accepted until the next Save seals it.
func TestEncryptedStoreReadsLegacyPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := NewStore(path).Save(&oauth2.Token{RefreshToken: "legacy-rt"}); err != nil {
		t.Fatalf("seed plaintext: %v", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	cipher, _ := crypto.NewCipher(base64.StdEncoding.EncodeToString(key))
	got, err := NewStore(path).WithCipher(cipher).Load()
	if err != nil {
		t.Fatalf("Load legacy: %v", err)
	}
	if got.RefreshToken != "legacy-rt" {
		t.Errorf("token = %+v", got)
	}
}
