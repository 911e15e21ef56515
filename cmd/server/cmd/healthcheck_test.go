package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestPerformHealthCheck(t *testing.T) {
	tests := []struct {
		name           string
		statusCode     int
		responseBody   interface{}
		expectHealthy  bool
		expectError    bool
		expectedStatus string
	}{
		{
			name:       "healthy server",
			statusCode: http.StatusOK,
			responseBody: HealthResponse{
				Status: "healthy",
				Checks: map[string]CheckResult{"database": {Status: "pass"}},
			},
			expectHealthy:  true,
			expectedStatus: "healthy",
		},
		{
			name:       "degraded server",
			statusCode: http.StatusOK,
			responseBody: HealthResponse{
				Status: "degraded",
				Checks: map[string]CheckResult{
					"database":       {Status: "pass"},
					"event_ingestor": {Status: "warn"},
				},
			},
			expectedStatus: "degraded",
		},
		{
			name:           "unhealthy server (503)",
			statusCode:     http.StatusServiceUnavailable,
			responseBody:   HealthResponse{Status: "unhealthy"},
			expectedStatus: "unhealthy",
		},
		{
			name:         "invalid response",
			statusCode:   http.StatusOK,
			responseBody: "not json",
			expectError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				if str, ok := tt.responseBody.(string); ok {
					fmt.Fprint(w, str)
				} else {
					_ = json.NewEncoder(w).Encode(tt.responseBody)
				}
			}))
			defer server.Close()

			result := performHealthCheck(server.URL, time.Second)

			if result.IsHealthy != tt.expectHealthy {
				t.Errorf("expected IsHealthy=%v, got %v", tt.expectHealthy, result.IsHealthy)
			}
			if tt.expectError && result.Error == "" {
				t.Error("expected error, got none")
			}
			if !tt.expectError && result.Status != tt.expectedStatus {
				t.Errorf("expected status=%s, got %s", tt.expectedStatus, result.Status)
			}
			if result.LatencyMs < 0 {
				t.Error("expected non-negative latency")
			}
		})
	}
}

func TestPerformHealthCheckTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	result := performHealthCheck(server.URL, 50*time.Millisecond)

	if result.Error == "" {
		t.Error("expected timeout error, got none")
	}
	if result.IsHealthy {
		t.Error("expected unhealthy result on timeout")
	}
}

func TestHealthcheckTargetURL(t *testing.T) {
	tests := []struct {
		name    string
		opts    healthcheckOptions
		env     map[string]string
		want    string
		wantErr bool
	}{
		{name: "explicit URL", opts: healthcheckOptions{url: "http://example.com/health"}, want: "http://example.com/health"},
		{name: "gateway default", opts: healthcheckOptions{service: "gateway"}, want: "http://localhost:3000/health"},
		{name: "storage default", opts: healthcheckOptions{service: "storage"}, want: "http://localhost:3001/health"},
		{name: "storage port from env", opts: healthcheckOptions{service: "storage"}, env: map[string]string{"STORAGE_PORT": "9001"}, want: "http://localhost:9001/health"},
		{name: "unknown service", opts: healthcheckOptions{service: "kafka"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GATEWAY_PORT", "")
			t.Setenv("STORAGE_PORT", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := tt.opts.targetURL()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestPerformHealthCheckWithRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(HealthResponse{Status: "unhealthy"})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
	}))
	defer server.Close()

	result := performHealthCheckWithRetries(server.URL, &healthcheckOptions{
		timeout:    time.Second,
		retries:    3,
		retryDelay: 10 * time.Millisecond,
	})

	if !result.IsHealthy {
		t.Error("expected healthy result after retries")
	}
	if result.RetryCount != 2 {
		t.Errorf("expected 2 retries, got %d", result.RetryCount)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestPerformHealthCheckWithRetriesAllFail(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "unhealthy"})
	}))
	defer server.Close()

	result := performHealthCheckWithRetries(server.URL, &healthcheckOptions{
		timeout:    time.Second,
		retries:    2,
		retryDelay: 10 * time.Millisecond,
	})

	if result.IsHealthy {
		t.Error("expected unhealthy result after all retries exhausted")
	}
	if result.RetryCount != 2 {
		t.Errorf("expected 2 retries, got %d", result.RetryCount)
	}
	if attempts.Load() != 3 { // Initial attempt + 2 retries
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHealthCheckResultPasses(t *testing.T) {
	degraded := HealthCheckResult{Status: "degraded", StatusCode: http.StatusOK}
	if degraded.passes(false) {
		t.Error("degraded should not pass by default")
	}
	if !degraded.passes(true) {
		t.Error("degraded should pass with --allow-degraded")
	}
	unhealthy := HealthCheckResult{Status: "unhealthy", StatusCode: http.StatusServiceUnavailable}
	if unhealthy.passes(true) {
		t.Error("unhealthy should never pass")
	}
}

func TestOutputFormats(t *testing.T) {
	result := HealthCheckResult{
		URL:        "http://localhost:3001/health",
		Status:     "healthy",
		StatusCode: 200,
		IsHealthy:  true,
		LatencyMs:  42,
		Response: &HealthResponse{
			Status: "healthy",
			Checks: map[string]CheckResult{
				"database":   {Status: "pass", Message: "SQLite reachable"},
				"migrations": {Status: "pass"},
			},
		},
	}

	tests := []struct {
		format   string
		expected []string
	}{
		{"json", []string{`"is_healthy": true`, `"latency_ms": 42`}},
		{"table", []string{"URL", "CHECK", "database", "SQLite reachable", "migrations"}},
		{"simple", []string{"http://localhost:3001/health: healthy (42ms)"}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			buf := new(bytes.Buffer)
			if err := outputResult(buf, result, tt.format); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, want := range tt.expected {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("expected output to contain %q, got:\n%s", want, buf.String())
				}
			}
		})
	}

	if err := outputResult(new(bytes.Buffer), result, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestHealthcheckCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "degraded"})
	}))
	defer server.Close()

	run := func(args ...string) (string, error) {
		cmd := newHealthcheckCommand()
		buf := new(bytes.Buffer)
		cmd.SetOut(buf)
		cmd.SetErr(buf)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return buf.String(), err
	}

	if _, err := run("--url", server.URL); err == nil {
		t.Error("expected degraded service to fail the check")
	}
	out, err := run("--url", server.URL, "--allow-degraded")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "degraded") {
		t.Errorf("expected output to mention status, got:\n%s", out)
	}
}
