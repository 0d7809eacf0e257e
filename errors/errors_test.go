package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection failed", ErrConnectionFailed, true},
		{"timeout", ErrTimeout, true},
		{"lock timeout", ErrLockTimeout, true},
		{"context deadline", context.DeadlineExceeded, true},
		{"wrapped transient", WrapTransient(New("boom"), "Pool", "Send", "write"), true},
		{"wrapped invalid", WrapInvalid(New("boom"), "Codec", "Decode", "parse"), false},
		{"message pattern", New("dial tcp: connection refused"), true},
		{"unrelated", New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrInvalidResponse))
	assert.True(t, IsInvalid(ErrPortConflict))
	assert.True(t, IsInvalid(WrapInvalid(New("bad"), "Codec", "Decode", "parse")))
	assert.False(t, IsInvalid(ErrConnectionFailed))
	assert.False(t, IsInvalid(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(ErrRegistryCorrupted))
	assert.True(t, IsFatal(WrapFatal(New("corrupt"), "Registry", "load", "parse")))
	assert.False(t, IsFatal(ErrTimeout))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrPortConflict))
	assert.Equal(t, ErrorFatal, Classify(ErrRegistryCorrupted))
	assert.Equal(t, ErrorTransient, Classify(ErrTimeout))
	assert.Equal(t, ErrorTransient, Classify(New("something else")))
}

func TestWrapPreservesChain(t *testing.T) {
	wrapped := Wrap(ErrPortConflict, "Registry", "Register", "check port")
	require.Error(t, wrapped)
	assert.True(t, Is(wrapped, ErrPortConflict))
	assert.Contains(t, wrapped.Error(), "Registry.Register: check port failed")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "C", "M", "a"))
	assert.NoError(t, WrapTransient(nil, "C", "M", "a"))
	assert.NoError(t, WrapInvalid(nil, "C", "M", "a"))
	assert.NoError(t, WrapFatal(nil, "C", "M", "a"))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("inner: %w", ErrTimeout)
	wrapped := WrapTransient(inner, "Pool", "Send", "read response")

	var ce *ClassifiedError
	require.True(t, As(wrapped, &ce))
	assert.Equal(t, "Pool", ce.Component)
	assert.Equal(t, "Send", ce.Operation)
	assert.True(t, Is(wrapped, ErrTimeout))
}
