package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Togather-Foundation/passvault/internal/api/envelope"
	"github.com/Togather-Foundation/passvault/internal/auth"
)

type guardFunc func(r *http.Request) (*auth.Principal, error)

func (f guardFunc) Authenticate(r *http.Request) (*auth.Principal, error) { return f(r) }

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *envelope.ErrorBody {
	t.Helper()
	var body envelope.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error
}

func TestRequireAuth_AttachesPrincipal(t *testing.T) {
	guard := guardFunc(func(*http.Request) (*auth.Principal, error) {
		return &auth.Principal{ClientID: "gateway", Subject: "svc"}, nil
	})

	var got *auth.Principal
	handler := RequireAuth(guard, "test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.PrincipalFromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, got)
	assert.Equal(t, "gateway", got.ClientID)
}

func TestRequireAuth_RejectsWithEnvelope(t *testing.T) {
	guard := guardFunc(func(*http.Request) (*auth.Principal, error) {
		return nil, errors.New("token expired")
	})

	called := false
	handler := CorrelationID(testLogger())(RequireAuth(guard, "test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/storage/password_manager", nil)
	req.Header.Set("X-Request-ID", "rid-auth")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "UNAUTHORIZED", body.Code)
	assert.Equal(t, "unauthorized", body.Message)
	assert.Equal(t, "rid-auth", body.TraceID)
	assert.False(t, body.Retryable)
}

func TestRequireAuth_APIKeyGuard(t *testing.T) {
	handler := RequireAuth(auth.NewAPIKeyGuard("s3cret"), "test")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(auth.HeaderAPIKey, "s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(auth.HeaderAPIKey, "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_NilGuardRejects(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireAuth(nil, "test")(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
