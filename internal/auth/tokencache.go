package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Togather-Foundation/passvault/internal/metrics"
)

const (
	// DefaultRefreshMargin is how long before expiry a cached token is replaced.
	DefaultRefreshMargin = 60 * time.Second
	// DefaultTokenLifetime applies when the provider omits expires_in.
	DefaultTokenLifetime = 300 * time.Second

	tokenFetchTimeout = 10 * time.Second
)

var ErrTokenUnavailable = errors.New("access token unavailable")

// TokenCacheConfig describes a client-credentials grant.
type TokenCacheConfig struct {
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Scope         string
	RefreshMargin time.Duration
	HTTPClient    *http.Client
	Now           func() time.Time
}

// TokenCache holds one client-credentials access token and refreshes it
// shortly before it expires. Concurrent callers share a single refresh.
type TokenCache struct {
	cfg    TokenCacheConfig
	logger zerolog.Logger
	group  singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenCache(cfg TokenCacheConfig, logger zerolog.Logger) *TokenCache {
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: tokenFetchTimeout}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenCache{
		cfg:    cfg,
		logger: logger.With().Str("component", "token_cache").Logger(),
	}
}

// Token returns a valid access token, fetching a new one if the cached token
// is missing or inside the refresh margin.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		// A flight that finished while this caller waited may have filled the slot.
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenFetchTimeout)
		defer cancel()
		return c.fetch(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.cfg.Now().Before(c.expiresAt) {
		return c.token, true
	}
	return "", false
}

// Invalidate drops the cached token so the next Token call fetches anew.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (c *TokenCache) fetch(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	if c.cfg.Scope != "" {
		form.Set("scope", c.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrTokenUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: read response: %v", ErrTokenUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrTokenUnavailable, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: malformed token response", ErrTokenUnavailable)
	}

	lifetime := DefaultTokenLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}
	// Short-lived tokens still get half their lifetime.
	valid := max(lifetime-c.cfg.RefreshMargin, lifetime/2)

	c.mu.Lock()
	c.token = tr.AccessToken
	c.expiresAt = c.cfg.Now().Add(valid)
	c.mu.Unlock()

	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	c.logger.Debug().Dur("valid_for", valid).Msg("access token refreshed")
	return tr.AccessToken, nil
}
