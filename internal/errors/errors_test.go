package errors_test

import (
	"context"
	"fmt"
	"testing"

	"codeberg.org/mutker/bmsmon/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrInvalidConfig)
	assert.Equal(t, "Invalid configuration", err.Error())

	err = errFactory.Wrap(errors.ErrReadConfig, fmt.Errorf("boom"))
	assert.Equal(t, "Failed to read configuration: boom", err.Error())

	err = errFactory.WithData(errors.ErrInvalidInterval, "0s")
	assert.Equal(t, "Invalid interval value: 0s", err.Error())

	err = errFactory.WithMessage(errors.ErrOperationFailed, "custom")
	assert.Equal(t, "custom", err.Error())
}

func TestHasCodeThroughWrapping(t *testing.T) {
	errFactory := errors.New()

	inner := errFactory.Wrap(errors.ErrTimeout, context.DeadlineExceeded)
	outer := fmt.Errorf("poll: %w", errFactory.Wrap(errors.ErrOperationFailed, inner))

	assert.True(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.True(t, errors.HasCode(outer, errors.ErrOperationFailed))
	assert.False(t, errors.HasCode(outer, errors.ErrInvalidConfig))
	assert.ErrorIs(t, outer, context.DeadlineExceeded)

	code, ok := errors.CodeOf(outer)
	require.True(t, ok)
	assert.Equal(t, errors.ErrOperationFailed, code)
}

func TestCodeOfPlainError(t *testing.T) {
	_, ok := errors.CodeOf(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestRegisterMessage(t *testing.T) {
	code := errors.ErrorCode("test_registered")
	errors.RegisterMessage(code, "Registered message")

	assert.Equal(t, "Registered message", errors.New().New(code).Error())
}
