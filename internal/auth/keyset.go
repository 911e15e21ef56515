package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Togather-Foundation/passvault/internal/metrics"
)

const (
	DefaultKeySetTTL               = 24 * time.Hour
	DefaultKeySetRequestsPerMinute = 10

	keySetFetchTimeout = 10 * time.Second
	maxKeySetBody      = 1 << 20
)

var (
	ErrUnknownKey        = errors.New("signing key not found")
	errKeySetRateLimited = errors.New("jwks refresh rate limited")
)

// KeySetConfig configures a KeySet. Zero values take the defaults.
type KeySetConfig struct {
	URL               string
	TTL               time.Duration
	RequestsPerMinute int
	HTTPClient        *http.Client
	Now               func() time.Time
}

// KeySet caches the RSA signing keys published at a JWKS endpoint.
//
// Keys are refreshed lazily: when the set is older than TTL, or when a token
// names a kid the set does not contain. Refreshes are collapsed into a single
// request and rate limited; while a refresh is refused the previously cached
// key, if any, is still served.
type KeySet struct {
	url     string
	ttl     time.Duration
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
	logger  zerolog.Logger
	group   singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewKeySet(cfg KeySetConfig, logger zerolog.Logger) *KeySet {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultKeySetTTL
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultKeySetRequestsPerMinute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: keySetFetchTimeout}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &KeySet{
		url:     cfg.URL,
		ttl:     cfg.TTL,
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute),
		now:     cfg.Now,
		logger:  logger.With().Str("component", "jwks").Logger(),
		keys:    map[string]*rsa.PublicKey{},
	}
}

// Key returns the public key for kid. An empty kid resolves only when the
// set holds exactly one key.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	key, ok := k.lookup(kid)
	seen := k.fetchedAt
	fresh := !seen.IsZero() && k.now().Sub(seen) < k.ttl
	k.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if err := k.refresh(ctx, seen); err != nil {
		if ok {
			k.logger.Warn().Err(err).Str("kid", kid).Msg("serving stale signing key")
			return key, nil
		}
		return nil, err
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if key, ok := k.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

// lookup must be called with mu held.
func (k *KeySet) lookup(kid string) (*rsa.PublicKey, bool) {
	if kid == "" {
		if len(k.keys) != 1 {
			return nil, false
		}
		for _, key := range k.keys {
			return key, true
		}
	}
	key, ok := k.keys[kid]
	return key, ok
}

// refresh downloads the key set unless it changed since the caller read it
// at seen.
func (k *KeySet) refresh(ctx context.Context, seen time.Time) error {
	ch := k.group.DoChan("jwks", func() (any, error) {
		k.mu.RLock()
		changed := !k.fetchedAt.Equal(seen)
		k.mu.RUnlock()
		if changed {
			return nil, nil
		}

		if !k.limiter.Allow() {
			metrics.JWKSFetchesTotal.WithLabelValues("rate_limited").Inc()
			return nil, errKeySetRateLimited
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keySetFetchTimeout)
		defer cancel()

		keys, err := k.fetch(fetchCtx)
		if err != nil {
			metrics.JWKSFetchesTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.JWKSFetchesTotal.WithLabelValues("success").Inc()

		k.mu.Lock()
		k.keys = keys
		k.fetchedAt = k.now()
		k.mu.Unlock()

		k.logger.Debug().Int("keys", len(keys)).Msg("jwks refreshed")
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k *KeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeySetBody)).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, raw := range set.Keys {
		if raw.Kty != "RSA" || (raw.Use != "" && raw.Use != "sig") {
			continue
		}
		pub, err := parseRSAKey(raw.N, raw.E)
		if err != nil {
			k.logger.Warn().Err(err).Str("kid", raw.Kid).Msg("skipping malformed jwk")
			continue
		}
		keys[raw.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contains no usable RSA signing keys")
	}
	return keys, nil
}

func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := decodeSegment(n)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := decodeSegment(e)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	if len(nb) == 0 || len(eb) == 0 || len(eb) > 4 {
		return nil, errors.New("invalid rsa parameters")
	}
	exp := int(new(big.Int).SetBytes(eb).Int64())
	if exp < 3 {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: exp}, nil
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
