package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Togather-Foundation/passvault/internal/api/envelope"
	"github.com/Togather-Foundation/passvault/internal/apperror"
	"github.com/Togather-Foundation/passvault/internal/storage"
	"github.com/Togather-Foundation/passvault/internal/validation"
)

// EntriesHandler serves the storage service's credential rows. It stores
// what it is given; encryption happens in the gateway.
type EntriesHandler struct {
	Repo     storage.EntryRepository
	Env      string
	validate *validator.Validate
}

func NewEntriesHandler(repo storage.EntryRepository, env string) *EntriesHandler {
	return &EntriesHandler{Repo: repo, Env: env, validate: validation.New()}
}

type deleteResponse struct {
	ID      int64 `json:"id"`
	Deleted bool  `json:"deleted"`
}

func (h *EntriesHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Repo.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteData(w, http.StatusOK, entries)
}

func (h *EntriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.Repo.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteData(w, http.StatusOK, entry)
}

func (h *EntriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in storage.EntryInput
	if err := decodeJSON(r, &in, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.StructCtx(r.Context(), in); err != nil {
		h.fail(w, r, validation.Error(err))
		return
	}
	entry, err := h.Repo.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteData(w, http.StatusCreated, entry)
}

func (h *EntriesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var upd storage.EntryUpdate
	if err := decodeJSON(r, &upd, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if upd.Empty() {
		h.fail(w, r, apperror.Validation("update must change at least one field"))
		return
	}
	if err := h.validate.StructCtx(r.Context(), upd); err != nil {
		h.fail(w, r, validation.Error(err))
		return
	}
	entry, err := h.Repo.Update(r.Context(), id, upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteData(w, http.StatusOK, entry)
}

func (h *EntriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Repo.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteData(w, http.StatusOK, deleteResponse{ID: id, Deleted: true})
}

func (h *EntriesHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeStorageError(w, r, err, "entry not found", h.Env)
}

// writeStorageError maps repository failures onto the storage contract:
// missing rows are NOT_FOUND, other database failures are a retryable
// STORAGE_ERROR served as 503. Errors that are already *apperror.Error pass
// through.
func writeStorageError(w http.ResponseWriter, r *http.Request, err error, notFound string, env string) {
	var appErr *apperror.Error
	switch {
	case errors.As(err, &appErr):
		envelope.WriteError(w, r, appErr, env)
	case errors.Is(err, storage.ErrNotFound):
		envelope.WriteError(w, r, apperror.NotFound(notFound), env)
	default:
		se := apperror.Wrap(err, apperror.KindStorage, apperror.CodeStorageError, "storage operation failed")
		se.Retryable = true
		envelope.WriteErrorStatus(w, r, http.StatusServiceUnavailable, se, env)
	}
}
