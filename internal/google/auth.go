// Package google adapts the consumer account APIs (Calendar, Gmail,
// People) to the provider interface the sync engine consumes.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"
	people "google.golang.org/api/people/v1"
)

const (
	credentialsFile = "credentials.json"
	tokenFile       = "token.json"
)

var scopes = []string{
	calendar.CalendarReadonlyScope,
	gmail.GmailReadonlyScope,
	people.ContactsScope,
}

// NewHTTPClient builds an authenticated client from a previously
// provisioned token. The daemon runs unattended, so there is no
// interactive flow here: a missing or invalid token is a hard error
// telling the operator to run the authorization once by hand.
func NewHTTPClient(ctx context.Context, configDir string) (*http.Client, error) {
	b, err := os.ReadFile(filepath.Join(configDir, credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read client credentials: %w", err)
	}
	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client credentials: %w", err)
	}

	tok, err := tokenFromFile(filepath.Join(configDir, tokenFile))
	if err != nil {
		return nil, fmt.Errorf("no stored token (run the authorize command first): %w", err)
	}
	return config.Client(ctx, tok), nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token file %s: %w", path, err)
	}
	return tok, nil
}

// SaveToken writes a freshly exchanged token where NewHTTPClient will
// find it.
func SaveToken(configDir string, tok *oauth2.Token) error {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	path := filepath.Join(configDir, tokenFile)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Authorize runs the one-time authorization code exchange. The operator
// pastes the code obtained from the consent URL.
func Authorize(ctx context.Context, configDir, code string) error {
	b, err := os.ReadFile(filepath.Join(configDir, credentialsFile))
	if err != nil {
		return fmt.Errorf("failed to read client credentials: %w", err)
	}
	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return fmt.Errorf("failed to parse client credentials: %w", err)
	}
	tok, err := config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return SaveToken(configDir, tok)
}

// ConsentURL returns the URL the operator visits to obtain an
// authorization code.
func ConsentURL(configDir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(configDir, credentialsFile))
	if err != nil {
		return "", fmt.Errorf("failed to read client credentials: %w", err)
	}
	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return "", fmt.Errorf("failed to parse client credentials: %w", err)
	}
	return config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}
