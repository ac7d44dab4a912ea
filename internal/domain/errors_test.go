package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Backend.Store", ErrBackendIO, "disk full")
	want := "Backend.Store: disk full: backend i/o failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Runtime.Search", ErrCancelled, "")
	want := "Runtime.Search: operation cancelled"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Vector.Search", ErrVectorSearch, "")
	if !errors.Is(err, ErrVectorSearch) {
		t.Error("errors.Is should match ErrVectorSearch")
	}
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeBackendIO, ErrorCodeOf(ErrBackendIO))
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(ErrSessionNotFound))
	assert.Equal(t, CodeEmbeddingFailed, ErrorCodeOf(ErrEmbeddingFailed))
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrVectorStore)
	assert.Equal(t, CodeVectorStore, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
}

func TestErrorCodeOf_Nil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
}

func TestNewSubSystemError_SubSystemField(t *testing.T) {
	err := NewSubSystemError("session", "Get", ErrNotFound, "s-123")
	assert.Equal(t, "session", err.SubSystem)
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(err))
}

func TestErrorCodeOf_SubSystemFallback(t *testing.T) {
	err := NewSubSystemError("unknown-subsystem", "Op", ErrNotFound, "")
	assert.Equal(t, CodeNotFound, ErrorCodeOf(err))
}

func TestWrapOp_Nil(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))
}

func TestWrapOp_PreservesIs(t *testing.T) {
	err := WrapOp("Session.Load", ErrSessionNotFound)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(err))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(ErrRateLimit))
	assert.True(t, IsRetryableError(ErrBackendIO))
	assert.False(t, IsRetryableError(ErrAuthInvalid))
	assert.False(t, IsRetryableError(nil))
}
