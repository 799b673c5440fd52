package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithDetails_DoesNotMutateSharedSentinel(t *testing.T) {
	derived := ErrValidation.WithDetails("field x is required")

	assert.Equal(t, "field x is required", derived.Details)
	assert.Nil(t, ErrValidation.Details, "the package-level sentinel must stay untouched")
}

func TestWithCause_PreservesCodeAndUnwraps(t *testing.T) {
	cause := errors.New("underlying db error")
	derived := ErrInternal.WithCause(cause)

	assert.Equal(t, ErrInternal.Code, derived.Code)
	assert.ErrorIs(t, derived, cause)
}

func TestAs_UnwrapsThroughFmtWrapping(t *testing.T) {
	wrapped := errors.New("outer")
	appErr := ErrConflict.WithDetails("already_finalized")

	found, ok := As(appErr)
	assert.True(t, ok)
	assert.Equal(t, ErrConflict.Code, found.Code)

	_, ok = As(wrapped)
	assert.False(t, ok)
}

func TestError_MessageIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrInternal.WithCause(cause)

	assert.Contains(t, err.Error(), "connection refused")
}
