package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Togather-Foundation/passvault/internal/apperror"
	"github.com/Togather-Foundation/passvault/internal/auth"
)

func newTestLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(zerolog.New(&buf)), &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var out map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &out))
	return out
}

func TestLogger_Log(t *testing.T) {
	l, buf := newTestLogger()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.Log(Entry{
		Timestamp:  at,
		Action:     "password.decrypt",
		Actor:      "anonymous",
		ResourceID: "7",
		ClientIP:   "192.168.1.1",
		Status:     StatusSuccess,
		Details:    map[string]string{"k": "v"},
	})

	line := lastLine(t, buf)
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, true, line["audit"])
	assert.Equal(t, "audit", line["component"])
	assert.Equal(t, "password.decrypt", line["action"])
	assert.Equal(t, "7", line["resource_id"])
	assert.Equal(t, "192.168.1.1", line["client_ip"])
	assert.Equal(t, "success", line["status"])
	assert.Equal(t, map[string]any{"k": "v"}, line["details"])
	assert.NotContains(t, line, "request_id")
}

func TestLogger_AutoTimestamp(t *testing.T) {
	l, buf := newTestLogger()
	fixed := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	l.Log(Entry{Action: "password.delete", Status: StatusFailure})

	line := lastLine(t, buf)
	assert.Equal(t, "warn", line["level"])
	at, err := time.Parse(time.RFC3339, line["at"].(string))
	require.NoError(t, err)
	assert.True(t, fixed.Equal(at))
}

func TestLogger_NilIsNoop(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Log(Entry{Action: "x"})
		l.Record(httptest.NewRequest(http.MethodGet, "/", nil), "x", "1", nil)
	})
}

func TestRecord_Statuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status string
		code   string
	}{
		{"success", nil, StatusSuccess, ""},
		{"wrong key", apperror.New(apperror.KindAuth, apperror.CodeInvalidMasterKey, "invalid master key"), StatusDenied, "INVALID_MASTER_KEY"},
		{"missing key", apperror.New(apperror.KindValidation, apperror.CodeMissingMasterKey, "masterKey is required"), StatusDenied, "MISSING_MASTER_KEY"},
		{"storage down", apperror.New(apperror.KindCircuitOpen, apperror.CodeCircuitOpen, "open"), StatusFailure, "CIRCUIT_BREAKER_OPEN"},
		{"plain error", errors.New("boom"), StatusFailure, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newTestLogger()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/passwords/3/decrypt", nil)
			req.RemoteAddr = "10.0.0.5:41234"
			req.Header.Set("X-Request-ID", "req-1")

			l.Record(req, "password.decrypt", "3", tt.err)

			line := lastLine(t, buf)
			assert.Equal(t, tt.status, line["status"])
			assert.Equal(t, "10.0.0.5", line["client_ip"])
			assert.Equal(t, "req-1", line["request_id"])
			assert.Equal(t, "anonymous", line["actor"])
			if tt.code == "" {
				assert.NotContains(t, line, "details")
			} else {
				assert.Equal(t, tt.code, line["details"].(map[string]any)["code"])
			}
		})
	}
}

func TestRecord_ActorAndForwardedFor(t *testing.T) {
	l, buf := newTestLogger()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/passwords/3", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{ClientID: "gateway"}))

	l.Record(req, "password.delete", "3", nil)

	line := lastLine(t, buf)
	assert.Equal(t, "gateway", line["actor"])
	assert.Equal(t, "192.0.2.1", line["client_ip"])
	assert.Equal(t, "203.0.113.9, 10.0.0.1", line["details"].(map[string]any)["forwarded_for"])
}
