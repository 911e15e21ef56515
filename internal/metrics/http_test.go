package metrics

import (
	"net/http"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"static path", "/api/v1/passwords", "/api/v1/passwords"},
		{"single param", "/api/v1/passwords/{id}", "/api/v1/passwords/{param}"},
		{"nested param", "/api/v1/passwords/{id}/decrypt", "/api/v1/passwords/{param}/decrypt"},
		{"wildcard", "/api/v1/audit/password-events/{eventId...}", "/api/v1/audit/password-events/{param}"},
		{"empty path", "", ""},
		{"non-path input", "api/v1/passwords/{id}", "api/v1/passwords/{id}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePath(tt.input); got != tt.expected {
				t.Fatalf("normalizePath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRouteLabel(t *testing.T) {
	r := &http.Request{Pattern: "DELETE /api/v1/storage/password_manager/{id}"}
	if got := routeLabel(r); got != "/api/v1/storage/password_manager/{param}" {
		t.Fatalf("routeLabel = %q", got)
	}
	if got := routeLabel(&http.Request{}); got != "unmatched" {
		t.Fatalf("routeLabel(empty) = %q", got)
	}
}
