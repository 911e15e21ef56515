package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeaders_AllHeaders(t *testing.T) {
	handler := SecurityHeaders(false)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/passwords", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	tests := []struct {
		header   string
		expected string
	}{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", "no-referrer"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Cache-Control", "no-store"},
		{"Pragma", "no-cache"},
	}

	for _, tt := range tests {
		if got := rec.Header().Get(tt.header); got != tt.expected {
			t.Errorf("expected %s: %s, got %s", tt.header, tt.expected, got)
		}
	}
}

func TestSecurityHeaders_HSTS_NotSetInDevelopment(t *testing.T) {
	handler := SecurityHeaders(false)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "https://vault.example/api/v1/passwords", nil)
	req.TLS = &tls.ConnectionState{}
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS should not be set in development, got %s", got)
	}
}

func TestSecurityHeaders_HSTS_SetInProduction(t *testing.T) {
	handler := SecurityHeaders(true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "https://vault.example/api/v1/passwords", nil)
	req.TLS = &tls.ConnectionState{}
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	expected := "max-age=31536000; includeSubDomains"
	if got := rec.Header().Get("Strict-Transport-Security"); got != expected {
		t.Errorf("expected HSTS: %s, got %s", expected, got)
	}
}

func TestSecurityHeaders_HSTS_NotSetOnHTTP(t *testing.T) {
	handler := SecurityHeaders(true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "http://vault.example/api/v1/passwords", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS should not be set on HTTP connections, got %s", got)
	}
}
