// Command authsetup walks through the one-time OAuth consent flow and writes
// the resulting token to the configured token file. Run it interactively on a
// machine with a browser before starting the controller.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/onnwee/camlive/authstore"
	"github.com/onnwee/camlive/config"
	"github.com/onnwee/camlive/crypto"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.YTClientID == "" || cfg.YTClientSecret == "" {
		slog.Error("YT_CLIENT_ID and YT_CLIENT_SECRET are required")
		os.Exit(1)
	}

	oc := authstore.OAuthConfig(cfg.YTClientID, cfg.YTClientSecret, cfg.YTRedirectURI, cfg.YTScopes)
	redirect, err := url.Parse(oc.RedirectURL)
	if err != nil {
		slog.Error("invalid redirect URI", slog.String("uri", oc.RedirectURL), slog.Any("err", err))
		os.Exit(1)
	}

	state := uuid.New().String()
	authURL := oc.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorized. You can close this tab.")
		codeCh <- code
	})

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		slog.Error("cannot listen on redirect address", slog.String("addr", redirect.Host), slog.Any("err", err))
		os.Exit(1)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("callback server error", slog.Any("err", err))
		}
	}()

	fmt.Println("Open this URL in a browser and authorize the account that owns the channel:")
	fmt.Println()
	fmt.Println("  " + authURL)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var code string
	select {
	case code = <-codeCh:
	case <-ctx.Done():
		slog.Error("timed out waiting for the OAuth callback")
		os.Exit(1)
	}
	_ = srv.Shutdown(context.Background())

	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		slog.Error("code exchange failed", slog.Any("err", err))
		os.Exit(1)
	}
	if tok.RefreshToken == "" {
		slog.Warn("no refresh token returned; revoke prior grants and re-run if the controller cannot refresh")
	}

	store := authstore.NewStore(cfg.TokenFile)
	if cfg.TokenEncKey != "" {
		cipher, err := crypto.NewCipher(cfg.TokenEncKey)
		if err != nil {
			slog.Error("bad TOKEN_ENC_KEY", slog.Any("err", err))
			os.Exit(1)
		}
		store = store.WithCipher(cipher)
	}
	if err := store.Save(tok); err != nil {
		slog.Error("token save failed", slog.Any("err", err))
		os.Exit(1)
	}
	fmt.Printf("Token written to %s\n", cfg.TokenFile)
}
