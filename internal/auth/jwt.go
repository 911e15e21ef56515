package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims the storage service cares about.
type Claims struct {
	ClientID        string `json:"client_id,omitempty"`
	AuthorizedParty string `json:"azp,omitempty"`
	Scope           string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	ClientID string
	Subject  string
	Scope    string
}

var (
	ErrMissingToken = errors.New("missing token")
	// ErrUnauthorized is the only error inbound guards surface; the failing
	// step is logged, never returned.
	ErrUnauthorized = errors.New("unauthorized")
)

func TokenFromHeader(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}

func principalFromClaims(c *Claims) *Principal {
	clientID := c.ClientID
	if clientID == "" {
		clientID = c.AuthorizedParty
	}
	if clientID == "" {
		clientID = c.Subject
	}
	return &Principal{ClientID: clientID, Subject: c.Subject, Scope: c.Scope}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by an auth middleware, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
