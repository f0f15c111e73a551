package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("quota.daily_limit", "must be positive, got %d", -1)
	require.Equal(t, "invalid configuration: quota.daily_limit: must be positive, got -1", err.Error())

	wrapped := fmt.Errorf("load: %w", err)
	assert.True(t, IsConfiguration(wrapped))
	assert.False(t, IsPersistence(wrapped))

	envelope := err.Envelope()
	require.NotNil(t, envelope)
	assert.Equal(t, "CONFIG_INVALID", envelope.Code)
}

func TestPersistenceErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := NewPersistenceError("save quota", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsPersistence(fmt.Errorf("record: %w", err)))
	assert.Contains(t, err.Error(), "save quota")
}

func TestActionExecutionFailure(t *testing.T) {
	cause := errors.New("timeout")
	err := &ActionExecutionFailure{TargetID: "job-1", Kind: "timeout", Err: cause}

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "action on job-1 failed (timeout): timeout", err.Error())
}
