package auth

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoginPasteToken(t *testing.T) {
	cred, err := LoginPasteToken("u1", strings.NewReader("  sk-session-abc123  \n"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if cred.UserID != "u1" {
		t.Errorf("user id: got %q", cred.UserID)
	}
	if cred.AccessToken != "sk-session-abc123" {
		t.Errorf("token not trimmed: got %q", cred.AccessToken)
	}
}

func TestLoginPasteToken_Empty(t *testing.T) {
	if _, err := LoginPasteToken("u1", strings.NewReader("\n")); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := LoginPasteToken("u1", strings.NewReader("")); err == nil {
		t.Error("expected error for no input")
	}
}

func TestSaveLoad_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cred", "credential.json")
	in := &Credential{UserID: "u1", DisplayName: "Uma", AccessToken: "sk-abc"}

	if err := Save(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.UserID != "u1" || out.AccessToken != "sk-abc" || out.DisplayName != "Uma" {
		t.Errorf("got %+v", out)
	}
}

func TestLoad_MissingToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	if err := Save(path, &Credential{UserID: "u1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for credential without token")
	}
}

func TestTokenSource(t *testing.T) {
	cred := &Credential{UserID: "u1", AccessToken: "sk-abc"}
	tok, err := cred.TokenSource().Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "sk-abc" {
		t.Errorf("access token: got %q", tok.AccessToken)
	}
}
