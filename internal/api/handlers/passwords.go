package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Togather-Foundation/passvault/internal/api/envelope"
	"github.com/Togather-Foundation/passvault/internal/audit"
	"github.com/Togather-Foundation/passvault/internal/domain/passwords"
)

// PasswordService is the gateway's credential API. *passwords.Service
// implements it.
type PasswordService interface {
	Create(ctx context.Context, in passwords.CreateInput) (*passwords.View, error)
	List(ctx context.Context) ([]passwords.View, error)
	Get(ctx context.Context, id int64) (*passwords.View, error)
	Update(ctx context.Context, id int64, in passwords.UpdateInput) (*passwords.View, error)
	Delete(ctx context.Context, id int64, masterKey string) (*passwords.DeleteResult, error)
	Decrypt(ctx context.Context, id int64, masterKey string) (*passwords.DecryptResult, error)
}

type PasswordsHandler struct {
	Service PasswordService
	Env     string
	// Audit records every operation that presents a master key. Nil
	// disables it.
	Audit *audit.Logger
}

func NewPasswordsHandler(service PasswordService, env string) *PasswordsHandler {
	return &PasswordsHandler{Service: service, Env: env}
}

func (h *PasswordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in passwords.CreateInput
	if err := decodeJSON(r, &in, false); err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	view, err := h.Service.Create(r.Context(), in)
	if err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	envelope.WriteData(w, http.StatusCreated, view)
}

func (h *PasswordsHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.Service.List(r.Context())
	if err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	envelope.WriteData(w, http.StatusOK, views)
}

func (h *PasswordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	view, err := h.Service.Get(r.Context(), id)
	if err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	envelope.WriteData(w, http.StatusOK, view)
}

func (h *PasswordsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	var in passwords.UpdateInput
	if err := decodeJSON(r, &in, false); err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	view, err := h.Service.Update(r.Context(), id, in)
	action := "password.update"
	if in.NewMasterKey != nil {
		action = "password.rotate_key"
	}
	h.Audit.Record(r, action, strconv.FormatInt(id, 10), err)
	if err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	envelope.WriteData(w, http.StatusOK, view)
}

// Delete takes the master key from the masterKey query parameter.
func (h *PasswordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	result, err := h.Service.Delete(r.Context(), id, r.URL.Query().Get("masterKey"))
	h.Audit.Record(r, "password.delete", strconv.FormatInt(id, 10), err)
	if err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	envelope.WriteData(w, http.StatusOK, result)
}

func (h *PasswordsHandler) Decrypt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	var in passwords.DecryptInput
	if err := decodeJSON(r, &in, true); err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	result, err := h.Service.Decrypt(r.Context(), id, in.MasterKey)
	h.Audit.Record(r, "password.decrypt", strconv.FormatInt(id, 10), err)
	if err != nil {
		envelope.WriteError(w, r, err, h.Env)
		return
	}
	envelope.WriteData(w, http.StatusOK, result)
}
