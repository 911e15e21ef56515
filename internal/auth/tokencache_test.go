package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Togather-Foundation/passvault/internal/testauth"
)

func newTestTokenCache(idp *testauth.IdentityProvider, now func() time.Time) *TokenCache {
	return NewTokenCache(TokenCacheConfig{
		TokenURL:     idp.TokenURL(),
		ClientID:     idp.ClientID,
		ClientSecret: idp.ClientSecret,
		Now:          now,
	}, zerolog.Nop())
}

func TestTokenCache_ReusesUntilMargin(t *testing.T) {
	idp := testauth.New(t)
	idp.TokenLifetime = 300 * time.Second
	clock := newTestClock()
	tc := newTestTokenCache(idp, clock.Now)

	tok, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	clock.Advance(239 * time.Second)
	again, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, again)
	assert.Equal(t, int64(1), idp.TokenHits.Load())

	clock.Advance(2 * time.Second)
	_, err = tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), idp.TokenHits.Load(), "refreshed 60s before expiry")
}

func TestTokenCache_DefaultLifetime(t *testing.T) {
	idp := testauth.New(t)
	idp.TokenLifetime = 0
	clock := newTestClock()
	tc := newTestTokenCache(idp, clock.Now)

	_, err := tc.Token(context.Background())
	require.NoError(t, err)

	clock.Advance(239 * time.Second)
	_, err = tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), idp.TokenHits.Load())

	clock.Advance(2 * time.Second)
	_, err = tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), idp.TokenHits.Load())
}

func TestTokenCache_ShortLivedTokenKeepsHalf(t *testing.T) {
	idp := testauth.New(t)
	idp.TokenLifetime = 60 * time.Second
	clock := newTestClock()
	tc := newTestTokenCache(idp, clock.Now)

	_, err := tc.Token(context.Background())
	require.NoError(t, err)
	clock.Advance(29 * time.Second)
	_, err = tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), idp.TokenHits.Load())
}

func TestTokenCache_Invalidate(t *testing.T) {
	idp := testauth.New(t)
	tc := newTestTokenCache(idp, nil)

	_, err := tc.Token(context.Background())
	require.NoError(t, err)
	tc.Invalidate()
	_, err = tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), idp.TokenHits.Load())
}

func TestTokenCache_SingleFlight(t *testing.T) {
	idp := testauth.New(t)
	tc := newTestTokenCache(idp, nil)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tc.Token(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), idp.TokenHits.Load())
}

func TestTokenCache_Errors(t *testing.T) {
	idp := testauth.New(t)

	bad := NewTokenCache(TokenCacheConfig{TokenURL: idp.TokenURL(), ClientID: idp.ClientID, ClientSecret: "nope"}, zerolog.Nop())
	_, err := bad.Token(context.Background())
	assert.ErrorIs(t, err, ErrTokenUnavailable)

	idp.FailTokens.Store(true)
	tc := newTestTokenCache(idp, nil)
	_, err = tc.Token(context.Background())
	assert.ErrorIs(t, err, ErrTokenUnavailable)

	unreachable := NewTokenCache(TokenCacheConfig{TokenURL: "http://127.0.0.1:1/token"}, zerolog.Nop())
	_, err = unreachable.Token(context.Background())
	assert.ErrorIs(t, err, ErrTokenUnavailable)
}

func TestTokenCache_CallerCancellation(t *testing.T) {
	idp := testauth.New(t)
	tc := newTestTokenCache(idp, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tc.Token(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
