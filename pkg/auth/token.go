// Package auth manages the ambient session credential. Authentication
// itself happens elsewhere; parley only stores the resulting session token
// and attaches it to API and channel requests.
package auth

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
)

// Credential is a stored session credential.
type Credential struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	AccessToken string `json:"access_token"`
}

// TokenSource exposes the credential as an oauth2.TokenSource so HTTP and
// websocket clients share one bearer-token abstraction.
func (c *Credential) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.AccessToken})
}

// LoginPasteToken prompts for a session token on r and returns the
// credential. The token is read as a single trimmed line.
func LoginPasteToken(userID string, r io.Reader) (*Credential, error) {
	fmt.Println("Paste your parley session token:")
	fmt.Print("> ")

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading token: %w", err)
		}
		return nil, errors.New("no input received")
	}

	token := strings.TrimSpace(scanner.Text())
	if token == "" {
		return nil, errors.New("token cannot be empty")
	}

	return &Credential{
		UserID:      userID,
		AccessToken: token,
	}, nil
}

// DefaultPath returns the standard credential location
// (~/.parley/credential.json).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "credential.json"
	}
	return filepath.Join(home, ".parley", "credential.json")
}

// Load reads a stored credential.
func Load(path string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if c.AccessToken == "" {
		return nil, errors.New("stored credential has no access token")
	}
	return &c, nil
}

// Save writes the credential with owner-only permissions.
func Save(path string, c *Credential) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
