package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"
)

var (
	ErrMissingAPIKey = errors.New("missing api key")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// Guard authenticates an inbound request. Implementations are chosen once
// at router construction.
type Guard interface {
	Authenticate(r *http.Request) (*Principal, error)
}

// APIKeyGuard accepts requests whose X-API-Key header equals a configured
// shared secret.
type APIKeyGuard struct {
	digest [sha256.Size]byte
	empty  bool
}

// NewAPIKeyGuard returns a guard for key. An empty key rejects every request.
func NewAPIKeyGuard(key string) *APIKeyGuard {
	return &APIKeyGuard{digest: sha256.Sum256([]byte(key)), empty: key == ""}
}

func (g *APIKeyGuard) Authenticate(r *http.Request) (*Principal, error) {
	key, err := APIKeyFromRequest(r)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if g.empty {
		return nil, ErrUnauthorized
	}
	// Comparing digests keeps the comparison length-independent.
	provided := sha256.Sum256([]byte(key))
	if subtle.ConstantTimeCompare(provided[:], g.digest[:]) != 1 {
		return nil, ErrUnauthorized
	}
	return &Principal{ClientID: "api-key", Subject: "api-key"}, nil
}

func APIKeyFromRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingAPIKey
	}
	key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if key == "" {
		return "", ErrMissingAPIKey
	}
	if !utf8.ValidString(key) {
		return "", ErrInvalidAPIKey
	}
	return key, nil
}
