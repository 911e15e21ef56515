package middleware

import (
	"net/http"

	"github.com/Togather-Foundation/passvault/internal/apperror"
	"github.com/Togather-Foundation/passvault/internal/api/envelope"
	"github.com/Togather-Foundation/passvault/internal/auth"
)

// RequireAuth admits requests the guard accepts and stores the resulting
// principal in the context. Rejections get an UNAUTHORIZED envelope; the
// underlying reason is only logged.
func RequireAuth(guard auth.Guard, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if guard == nil {
				envelope.WriteError(w, r, apperror.New(apperror.KindAuth, apperror.CodeUnauthorized, "authentication is not configured"), env)
				return
			}
			principal, err := guard.Authenticate(r)
			if err != nil {
				envelope.WriteError(w, r, apperror.Wrap(err, apperror.KindAuth, apperror.CodeUnauthorized, "unauthorized"), env)
				return
			}
			LoggerFromContext(r.Context()).Debug().
				Str("client_id", principal.ClientID).
				Msg("request authenticated")
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}
