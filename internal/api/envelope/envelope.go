// Package envelope writes and reads the uniform response body shared by the
// gateway and storage services: {"data": ...} on success and
// {"error": {"code", "message", "traceId", "retryable"}} on failure.
package envelope

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/passvault/internal/apperror"
)

const (
	contentType = "application/json"

	// HeaderRequestID carries the correlation id in both directions.
	HeaderRequestID = "X-Request-ID"
)

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	TraceID   string `json:"traceId,omitempty"`
	Retryable bool   `json:"retryable"`
}

// Response is the wire form. Data stays raw on the reading side.
type Response struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

type dataResponse struct {
	Data any `json:"data"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// StatusFor maps a wire code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case apperror.CodeValidation, apperror.CodeMissingMasterKey:
		return http.StatusBadRequest
	case apperror.CodeInvalidMasterKey, apperror.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperror.CodeNotFound:
		return http.StatusNotFound
	case apperror.CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperror.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperror.CodeCircuitOpen, apperror.CodeTokenError:
		return http.StatusServiceUnavailable
	case apperror.CodeStorageTimeout:
		return http.StatusGatewayTimeout
	case apperror.CodeStorageError, apperror.CodeStorageUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteData writes a success envelope.
func WriteData(w http.ResponseWriter, status int, data any) {
	write(w, status, dataResponse{Data: data})
}

// WriteError writes err as an error envelope. The trace id defaults to the
// request id that the correlation middleware put on the response. Internal
// error messages are replaced by a generic one outside development.
func WriteError(w http.ResponseWriter, r *http.Request, err error, env string) {
	WriteErrorStatus(w, r, 0, err, env)
}

// WriteErrorStatus is WriteError with an explicit HTTP status. A zero status
// takes the code table's.
func WriteErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error, env string) {
	appErr := apperror.From(err)
	traceID := appErr.TraceID
	if traceID == "" {
		traceID = w.Header().Get(HeaderRequestID)
	}

	if status == 0 {
		status = StatusFor(appErr.Code)
	}
	message := appErr.Message
	if appErr.Kind == apperror.KindInternal && env != "development" && env != "test" {
		message = http.StatusText(status)
	}

	logger := zerolog.Ctx(r.Context())
	var event *zerolog.Event
	if status >= 500 {
		event = logger.Error()
	} else {
		event = logger.Warn()
	}
	event.Err(err).
		Int("status", status).
		Str("code", appErr.Code).
		Str("path", r.URL.Path).
		Str("method", r.Method).
		Msg(appErr.Message)

	write(w, status, errorResponse{Error: ErrorBody{
		Code:      appErr.Code,
		Message:   message,
		TraceID:   traceID,
		Retryable: appErr.Retryable,
	}})
}

func write(w http.ResponseWriter, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"INTERNAL_ERROR","message":"Internal Server Error","retryable":false}}`))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// Decode parses an envelope body. It fails when the body is not an envelope.
func Decode(body []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Error == nil && resp.Data == nil {
		return nil, errors.New("envelope has neither data nor error")
	}
	return &resp, nil
}
