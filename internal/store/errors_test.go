package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreErrorFormatting(t *testing.T) {
	t.Parallel()

	underlying := errors.New("connection reset")
	err := NewStoreError("task", "save", "could not persist status", underlying)

	assert.Contains(t, err.Error(), "save operation on task failed")
	assert.Contains(t, err.Error(), "connection reset")
	assert.ErrorIs(t, err, underlying, "StoreError should unwrap to the original error")

	// Without a wrapped error the message stands alone
	bare := NewStoreError("task_log", "append", "constraint violated", nil)
	assert.Equal(t, "append operation on task_log failed: constraint violated", bare.Error())
}

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsNotFoundError(ErrNotFound))
	assert.True(t, IsNotFoundError(ErrTaskNotFound))
	assert.True(t, IsNotFoundError(fmt.Errorf("lookup: %w", ErrTaskNotFound)))
	assert.False(t, IsNotFoundError(ErrUpdateFailed))
	assert.False(t, IsNotFoundError(errors.New("something else")))
}
