package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_UnwrapsToSentinel(t *testing.T) {
	err := NewValidationError("timestamp_iso", "must be RFC3339")

	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "timestamp_iso: must be RFC3339", err.Error())

	var validErr *ValidationError
	require.True(t, errors.As(fmt.Errorf("handler: %w", err), &validErr))
	assert.Equal(t, "timestamp_iso", validErr.Field)
}

func TestWrappers_PreserveClassificationAndMessage(t *testing.T) {
	cause := errors.New("connection refused")

	wrapped := WrapTransient(cause)
	assert.ErrorIs(t, wrapped, ErrTransient)
	assert.Contains(t, wrapped.Error(), "connection refused")

	assert.ErrorIs(t, WrapFatal(cause), ErrFatal)
	assert.ErrorIs(t, WrapMalformedLLM(cause), ErrMalformedLLM)
}

func TestWrappers_NilPassthrough(t *testing.T) {
	assert.NoError(t, WrapTransient(nil))
	assert.NoError(t, WrapFatal(nil))
	assert.NoError(t, WrapMalformedLLM(nil))
}

func TestClassificationsAreDisjoint(t *testing.T) {
	err := WrapTransient(errors.New("blip"))
	assert.False(t, errors.Is(err, ErrFatal))
	assert.False(t, errors.Is(err, ErrMalformedLLM))
	assert.False(t, errors.Is(err, ErrValidation))
}
