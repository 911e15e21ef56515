package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Togather-Foundation/passvault/internal/storage"
	"github.com/Togather-Foundation/passvault/internal/storage/sqlite"
)

func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.RunMigrations(db.Writer))
	return db
}

const entryBody = `{"title":"Gmail","username":"me@gmail.com","encryptedPassword":"U2FsdGVkX1+abc","url":"https://mail.google.com","category":"Email","masterKeyHash":"$2a$04$hash"}`

func TestEntriesHandler_CRUD(t *testing.T) {
	h := NewEntriesHandler(setupTestDB(t).Entries(), "test")

	rec := httptest.NewRecorder()
	h.Create(rec, newRequest(http.MethodPost, "/api/v1/storage/password_manager", entryBody, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created storage.Entry
	decodeData(t, rec, &created)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, "U2FsdGVkX1+abc", created.EncryptedSecret)

	rec = httptest.NewRecorder()
	h.Update(rec, newRequest(http.MethodPut, "/api/v1/storage/password_manager/1", `{"title":"Gmail (work)"}`, map[string]string{"id": "1"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated storage.Entry
	decodeData(t, rec, &updated)
	assert.Equal(t, "Gmail (work)", updated.Title)
	assert.Equal(t, "me@gmail.com", updated.Username)
	assert.Equal(t, 2, updated.Version)

	rec = httptest.NewRecorder()
	h.List(rec, newRequest(http.MethodGet, "/api/v1/storage/password_manager", "", nil))
	var list []storage.Entry
	decodeData(t, rec, &list)
	assert.Len(t, list, 1)

	rec = httptest.NewRecorder()
	h.Delete(rec, newRequest(http.MethodDelete, "/api/v1/storage/password_manager/1", "", map[string]string{"id": "1"}))
	require.Equal(t, http.StatusOK, rec.Code)
	var del deleteResponse
	decodeData(t, rec, &del)
	assert.Equal(t, deleteResponse{ID: 1, Deleted: true}, del)

	rec = httptest.NewRecorder()
	h.Get(rec, newRequest(http.MethodGet, "/api/v1/storage/password_manager/1", "", map[string]string{"id": "1"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeErr(t, rec)
	assert.Equal(t, "NOT_FOUND", body.Code)
	assert.False(t, body.Retryable)
}

func TestEntriesHandler_EmptyListIsArray(t *testing.T) {
	h := NewEntriesHandler(setupTestDB(t).Entries(), "test")
	rec := httptest.NewRecorder()
	h.List(rec, newRequest(http.MethodGet, "/api/v1/storage/password_manager", "", nil))
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestEntriesHandler_Validation(t *testing.T) {
	h := NewEntriesHandler(setupTestDB(t).Entries(), "test")

	rec := httptest.NewRecorder()
	h.Create(rec, newRequest(http.MethodPost, "/api/v1/storage/password_manager", `{"title":"x"}`, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	msg := decodeErr(t, rec).Message
	assert.Contains(t, msg, "username is required")
	assert.Contains(t, msg, "encryptedPassword is required")

	rec = httptest.NewRecorder()
	h.Update(rec, newRequest(http.MethodPut, "/api/v1/storage/password_manager/1", `{}`, map[string]string{"id": "1"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErr(t, rec).Message, "at least one field")

	rec = httptest.NewRecorder()
	h.Update(rec, newRequest(http.MethodPut, "/api/v1/storage/password_manager/1", `{"title":""}`, map[string]string{"id": "1"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEntriesHandler_UpdateAndDeleteMissing(t *testing.T) {
	h := NewEntriesHandler(setupTestDB(t).Entries(), "test")

	rec := httptest.NewRecorder()
	h.Update(rec, newRequest(http.MethodPut, "/api/v1/storage/password_manager/99", `{"title":"x"}`, map[string]string{"id": "99"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.Delete(rec, newRequest(http.MethodDelete, "/api/v1/storage/password_manager/99", "", map[string]string{"id": "99"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type brokenEntries struct{ storage.EntryRepository }

func (brokenEntries) List(context.Context) ([]storage.Entry, error) {
	return nil, errors.New("database is locked")
}

func TestEntriesHandler_DatabaseFailureIsRetryable(t *testing.T) {
	h := NewEntriesHandler(brokenEntries{}, "production")

	rec := httptest.NewRecorder()
	req := newRequest(http.MethodGet, "/api/v1/storage/password_manager", "", nil)
	rec.Header().Set("X-Request-ID", "gw-req-1")
	h.List(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeErr(t, rec)
	assert.Equal(t, "STORAGE_ERROR", body.Code)
	assert.True(t, body.Retryable)
	assert.Equal(t, "gw-req-1", body.TraceID)
	assert.NotContains(t, body.Message, "locked")
}
