// Package testauth runs a fake OpenID identity provider for tests.
// This package should NEVER be used in production code.
//
// The provider serves a JWKS document and a client-credentials token
// endpoint at Keycloak-style paths, and signs arbitrary claims with its
// current RSA key so tests can mint valid, expired or foreign tokens.
package testauth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultRealm        = "passvault"
	DefaultClientID     = "gateway"
	DefaultClientSecret = "gateway-secret"
	DefaultAudience     = "storage"
)

// IdentityProvider is an httptest-backed fake IdP.
type IdentityProvider struct {
	Realm        string
	ClientID     string
	ClientSecret string
	Audience     string
	// TokenLifetime is reported as expires_in; zero omits the field.
	TokenLifetime time.Duration

	server *httptest.Server

	mu   sync.RWMutex
	keys []signingKey

	CertsHits atomic.Int64
	TokenHits atomic.Int64
	// FailTokens makes the token endpoint return 500 while set.
	FailTokens atomic.Bool
}

type signingKey struct {
	kid  string
	priv *rsa.PrivateKey
}

// New starts a provider with one signing key. It is closed by t.Cleanup.
func New(t testing.TB) *IdentityProvider {
	t.Helper()
	idp := &IdentityProvider{
		Realm:         DefaultRealm,
		ClientID:      DefaultClientID,
		ClientSecret:  DefaultClientSecret,
		Audience:      DefaultAudience,
		TokenLifetime: 5 * time.Minute,
	}
	idp.RotateKey(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /realms/{realm}/protocol/openid-connect/certs", idp.handleCerts)
	mux.HandleFunc("POST /realms/{realm}/protocol/openid-connect/token", idp.handleToken)
	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (p *IdentityProvider) URL() string { return p.server.URL }

func (p *IdentityProvider) Issuer() string {
	return fmt.Sprintf("%s/realms/%s", p.server.URL, p.Realm)
}

func (p *IdentityProvider) JWKSURL() string {
	return p.Issuer() + "/protocol/openid-connect/certs"
}

func (p *IdentityProvider) TokenURL() string {
	return p.Issuer() + "/protocol/openid-connect/token"
}

// RotateKey adds a new current signing key. Older keys stay published.
func (p *IdentityProvider) RotateKey(t testing.TB) string {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	kid := fmt.Sprintf("key-%d", len(p.keys)+1)
	p.keys = append(p.keys, signingKey{kid: kid, priv: priv})
	return kid
}

// Sign signs claims with the current key using RS256.
func (p *IdentityProvider) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := p.sign(claims)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// Claims returns a valid claim set for the default client.
func (p *IdentityProvider) Claims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":       p.Issuer(),
		"aud":       []string{p.Audience},
		"sub":       "service-account-" + p.ClientID,
		"azp":       p.ClientID,
		"client_id": p.ClientID,
		"scope":     "profile email",
		"iat":       now.Unix(),
		"exp":       now.Add(p.lifetime()).Unix(),
	}
}

// ValidToken is Sign(Claims()).
func (p *IdentityProvider) ValidToken(t testing.TB) string {
	t.Helper()
	return p.Sign(t, p.Claims())
}

func (p *IdentityProvider) lifetime() time.Duration {
	if p.TokenLifetime <= 0 {
		return 5 * time.Minute
	}
	return p.TokenLifetime
}

func (p *IdentityProvider) handleCerts(w http.ResponseWriter, _ *http.Request) {
	p.CertsHits.Add(1)

	p.mu.RLock()
	keys := make([]map[string]string, 0, len(p.keys))
	for _, k := range p.keys {
		pub := k.priv.PublicKey
		keys = append(keys, map[string]string{
			"kty": "RSA",
			"kid": k.kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	p.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
}

func (p *IdentityProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.TokenHits.Add(1)
	if p.FailTokens.Load() {
		http.Error(w, `{"error":"server_error"}`, http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("grant_type") != "client_credentials" {
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("client_id") != p.ClientID || r.PostForm.Get("client_secret") != p.ClientSecret {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
		return
	}

	signed, err := p.sign(p.Claims())
	if err != nil {
		http.Error(w, `{"error":"server_error"}`, http.StatusInternalServerError)
		return
	}
	resp := map[string]any{"access_token": signed, "token_type": "Bearer"}
	if p.TokenLifetime > 0 {
		resp["expires_in"] = int64(p.TokenLifetime / time.Second)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (p *IdentityProvider) sign(claims jwt.MapClaims) (string, error) {
	p.mu.RLock()
	key := p.keys[len(p.keys)-1]
	p.mu.RUnlock()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = key.kid
	return tok.SignedString(key.priv)
}
