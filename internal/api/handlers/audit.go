package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Togather-Foundation/passvault/internal/api/envelope"
	"github.com/Togather-Foundation/passvault/internal/apperror"
	"github.com/Togather-Foundation/passvault/internal/storage"
)

// AuditHandler exposes the ingested password events read-only.
type AuditHandler struct {
	Repo storage.AuditRepository
	Env  string
}

func NewAuditHandler(repo storage.AuditRepository, env string) *AuditHandler {
	return &AuditHandler{Repo: repo, Env: env}
}

// List returns events newest first. Query: type (exact match), limit
// (default 100, capped at 1000).
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AuditFilter{Type: strings.TrimSpace(q.Get("type"))}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			envelope.WriteError(w, r, apperror.Validation("limit must be a positive integer"), h.Env)
			return
		}
		filter.Limit = limit
	}

	events, err := h.Repo.List(r.Context(), filter)
	if err != nil {
		writeStorageError(w, r, err, "", h.Env)
		return
	}
	envelope.WriteData(w, http.StatusOK, events)
}

func (h *AuditHandler) Get(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventId")
	if eventID == "" {
		envelope.WriteError(w, r, apperror.Validation("eventId is required"), h.Env)
		return
	}
	event, err := h.Repo.GetByEventID(r.Context(), eventID)
	if err != nil {
		writeStorageError(w, r, err, "event not found", h.Env)
		return
	}
	envelope.WriteData(w, http.StatusOK, event)
}

func (h *AuditHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Repo.Stats(r.Context())
	if err != nil {
		writeStorageError(w, r, err, "", h.Env)
		return
	}
	envelope.WriteData(w, http.StatusOK, stats)
}
