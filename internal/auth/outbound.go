package auth

import (
	"context"
	"fmt"
	"net/http"
)

// HeaderAPIKey carries the shared secret between services.
const HeaderAPIKey = "X-API-Key"

// Outbound decorates requests to a protected service. Implementations are
// chosen once at construction.
type Outbound interface {
	Authorize(ctx context.Context, req *http.Request) error
	// Invalidate discards cached credentials after the peer rejected them.
	// It reports whether a retry with fresh credentials can help.
	Invalidate() bool
}

// APIKeyOutbound sends a static shared secret.
type APIKeyOutbound struct {
	Key string
}

func (a APIKeyOutbound) Authorize(_ context.Context, req *http.Request) error {
	req.Header.Set(HeaderAPIKey, a.Key)
	return nil
}

func (APIKeyOutbound) Invalidate() bool { return false }

// TokenSource yields bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// BearerOutbound sends a client-credentials access token.
type BearerOutbound struct {
	Source TokenSource
}

func (b BearerOutbound) Authorize(ctx context.Context, req *http.Request) error {
	tok, err := b.Source.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtain access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

func (b BearerOutbound) Invalidate() bool {
	b.Source.Invalidate()
	return true
}
