package cmd

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTokenCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("client_id") != "gateway" || r.PostForm.Get("client_secret") != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","expires_in":300,"token_type":"Bearer"}`))
	}))
	defer server.Close()

	t.Setenv("KEYCLOAK_URL", "")
	t.Setenv("OAUTH_TOKEN_URL", server.URL)
	t.Setenv("OAUTH_CLIENT_ID", "gateway")
	t.Setenv("OAUTH_CLIENT_SECRET", "s3cret")

	out, err := execute("token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "tok-123" {
		t.Errorf("expected raw token, got %q", out)
	}

	out, err = execute("token", "--header")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Authorization: Bearer tok-123") {
		t.Errorf("expected header line, got %q", out)
	}

	t.Setenv("OAUTH_CLIENT_SECRET", "wrong")
	if _, err := execute("token"); err == nil {
		t.Error("expected rejected credentials to fail")
	}
}

func TestTokenCommandRequiresCredentials(t *testing.T) {
	t.Setenv("KEYCLOAK_URL", "")
	t.Setenv("OAUTH_TOKEN_URL", "")
	t.Setenv("OAUTH_CLIENT_ID", "")
	t.Setenv("OAUTH_CLIENT_SECRET", "")

	if _, err := execute("token"); err == nil || !strings.Contains(err.Error(), "OAUTH_TOKEN_URL") {
		t.Fatalf("expected missing credentials error, got %v", err)
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := generateSecret(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := generateSecret(32)
	if a == b {
		t.Error("expected distinct secrets")
	}
	if len(a) != 43 {
		t.Errorf("expected 43 characters for 32 bytes, got %d", len(a))
	}
	if _, err := generateSecret(8); err == nil {
		t.Error("expected short secrets to be rejected")
	}
}
