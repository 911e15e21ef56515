package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrom_PassesThroughWrapped(t *testing.T) {
	orig := NotFound("entry not found")
	wrapped := fmt.Errorf("get entry: %w", orig)

	got := From(wrapped)
	require.NotNil(t, got)
	assert.Same(t, orig, got)
	assert.True(t, IsKind(wrapped, KindNotFound))
}

func TestFrom_PlainErrorBecomesInternal(t *testing.T) {
	got := From(errors.New("boom"))
	require.NotNil(t, got)
	assert.Equal(t, KindInternal, got.Kind)
	assert.Equal(t, CodeInternal, got.Code)
	assert.False(t, got.Retryable)
	assert.Nil(t, From(nil))
}

func TestNew_RetryDefaults(t *testing.T) {
	assert.True(t, New(KindCircuitOpen, CodeCircuitOpen, "").Retryable)
	assert.True(t, New(KindStorageTimeout, CodeStorageTimeout, "").Retryable)
	assert.False(t, New(KindAuth, CodeInvalidMasterKey, "").Retryable)
	assert.False(t, Validation("bad").Retryable)
}

func TestKindForCode(t *testing.T) {
	tests := map[string]Kind{
		CodeNotFound:         KindNotFound,
		CodeInvalidMasterKey: KindAuth,
		CodeStorageTimeout:   KindStorageTimeout,
		"SOMETHING_ELSE":     KindStorage,
		CodeInternal:         KindInternal,
	}
	for code, want := range tests {
		assert.Equal(t, want, KindForCode(code), code)
	}
}

func TestWithTrace_KeepsExisting(t *testing.T) {
	e := New(KindStorage, CodeStorageError, "x").WithTrace("first")
	e.WithTrace("second")
	assert.Equal(t, "first", e.TraceID)
}
