package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_KeepsCodedErrors(t *testing.T) {
	nf := NotFound("workflow_template", "t-1")
	wrapped := fmt.Errorf("loading: %w", nf)

	assert.Same(t, wrapped, Wrap(wrapped, "ignored"))
	assert.True(t, IsNotFound(wrapped))
}

func TestWrap_InternalHidesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, "failed to load template")

	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestInvalidTransition_NamesBothStates(t *testing.T) {
	err := InvalidTransition("instance_step", "completed", "pending")

	assert.True(t, IsInvalidTransition(err))
	assert.Contains(t, err.Error(), "completed")
	assert.Contains(t, err.Error(), "pending")
	assert.Equal(t, "completed", err.Details["current"])
	assert.Equal(t, "pending", err.Details["requested"])
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.False(t, IsConflict(nil))
	assert.True(t, IsConflict(Conflict("has instances")))
	assert.True(t, IsValidation(Validation("name", "is required")))
}
