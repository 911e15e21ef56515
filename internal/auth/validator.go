package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/passvault/internal/metrics"
)

// KeyResolver returns the verification key for a token's kid.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// ValidatorConfig lists what an acceptable token must carry.
type ValidatorConfig struct {
	// Issuers accepted verbatim, e.g. the internal and public URL of one realm.
	Issuers          []string
	Audience         string
	FallbackAudience string
	Leeway           time.Duration
	Now              func() time.Time
}

// TokenValidator verifies RS256 bearer tokens against a KeySet.
type TokenValidator struct {
	keys   KeyResolver
	cfg    ValidatorConfig
	parser *jwt.Parser
	logger zerolog.Logger
}

func NewTokenValidator(keys KeyResolver, cfg ValidatorConfig, logger zerolog.Logger) *TokenValidator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenValidator{
		keys: keys,
		cfg:  cfg,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cfg.Leeway),
			jwt.WithTimeFunc(cfg.Now),
		),
		logger: logger.With().Str("component", "token_validator").Logger(),
	}
}

// Authenticate implements Guard.
func (v *TokenValidator) Authenticate(r *http.Request) (*Principal, error) {
	return v.Validate(r.Context(), r.Header.Get("Authorization"))
}

// Validate checks an Authorization header value. Every failure returns
// ErrUnauthorized; the reason is only logged at debug level.
func (v *TokenValidator) Validate(ctx context.Context, authHeader string) (*Principal, error) {
	p, err := v.validate(ctx, authHeader)
	if err != nil {
		metrics.TokenValidationsTotal.WithLabelValues("rejected").Inc()
		v.logger.Debug().Err(err).Msg("bearer token rejected")
		return nil, ErrUnauthorized
	}
	metrics.TokenValidationsTotal.WithLabelValues("accepted").Inc()
	return p, nil
}

func (v *TokenValidator) validate(ctx context.Context, authHeader string) (*Principal, error) {
	raw, err := TokenFromHeader(authHeader)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, err
	}

	if !slices.Contains(v.cfg.Issuers, claims.Issuer) {
		return nil, errors.New("issuer not accepted: " + claims.Issuer)
	}

	if accepted := v.acceptedAudiences(); len(accepted) > 0 {
		if !slices.ContainsFunc(claims.Audience, func(a string) bool { return slices.Contains(accepted, a) }) {
			return nil, errors.New("audience not accepted")
		}
	}

	// The parser already enforces exp; this keeps the check independent of
	// parser options.
	if claims.ExpiresAt == nil || !v.cfg.Now().Before(claims.ExpiresAt.Add(v.cfg.Leeway)) {
		return nil, errors.New("token expired")
	}

	return principalFromClaims(claims), nil
}

func (v *TokenValidator) acceptedAudiences() []string {
	var out []string
	for _, a := range []string{v.cfg.Audience, v.cfg.FallbackAudience} {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}
