// internal/runtime/auth.go
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// LoadOAuthConfig parses the downloaded OAuth client secret file into a
// config requesting the modify scope (read, send, relabel).
func LoadOAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secret file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, gmapi.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secret file: %w", err)
	}
	return cfg, nil
}

// NewGmailService builds the Gmail API service around an HTTP client that
// attaches (and transparently renews) the given credential.
func NewGmailService(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) (*gmapi.Service, error) {
	httpClient := cfg.Client(ctx, tok)
	svc, err := gmapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
