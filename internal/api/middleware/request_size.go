package middleware

import (
	"net/http"

	"github.com/Togather-Foundation/passvault/internal/apperror"
	"github.com/Togather-Foundation/passvault/internal/api/envelope"
)

// DefaultMaxBodySize bounds JSON request bodies. Entries are small; 64KB
// leaves room for notes.
const DefaultMaxBodySize int64 = 64 << 10

// RequestSize limits the size of incoming request bodies.
//
// Bodies that declare a Content-Length above maxBytes are refused with a
// PAYLOAD_TOO_LARGE envelope before the handler runs. Other bodies are
// wrapped in http.MaxBytesReader so a handler's decode fails once the limit
// is crossed.
func RequestSize(maxBytes int64, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				envelope.WriteError(w, r, apperror.New(apperror.KindValidation, apperror.CodePayloadTooLarge,
					"request body too large"), env)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
