package errors

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "COMMON_001", ErrCodeInternal.String())
	assert.Equal(t, "ABC_001", ErrCodeInvalidConfig.String())
}

func TestDefaultMessageForCode(t *testing.T) {
	assert.Equal(t, "internal error", DefaultMessageForCode(ErrCodeInternal))
	assert.Equal(t, "inference cancelled", DefaultMessageForCode(ErrCodeCancelled))
	assert.Equal(t, "unknown error", DefaultMessageForCode(ErrorCode("UNKNOWN")))
}

func TestExitCodeForCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrCodeInvalidConfig, 2},
		{ErrCodePopulationMismatch, 2},
		{ErrCodeTrialCapExceeded, 3},
		{ErrCodeCancelled, 130},
		{ErrCodeCollaboratorFailed, 1},
		{ErrorCode("UNKNOWN"), 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ExitCodeForCode(tt.code), tt.code.String())
	}
}

func TestIsConfigError(t *testing.T) {
	assert.True(t, IsConfigError(ErrCodeInvalidConfig))
	assert.True(t, IsConfigError(ErrCodeDimensionMismatch))
	assert.False(t, IsConfigError(ErrCodeCollaboratorFailed))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrCodeCollaboratorFailed))
	assert.True(t, IsRetryable(ErrCodeDatabaseError))
	assert.False(t, IsRetryable(ErrCodeInvalidConfig))
	assert.False(t, IsRetryable(ErrCodeCancelled))
}

func TestModuleForCode(t *testing.T) {
	assert.Equal(t, "COMMON", ModuleForCode(ErrCodeInternal))
	assert.Equal(t, "ABC", ModuleForCode(ErrCodeCollaboratorFailed))
	assert.Equal(t, "STORE", ModuleForCode(ErrCodeCacheError))
	assert.Equal(t, "UNKNOWN", ModuleForCode(ErrorCode("")))
}

func TestErrorCodeFormat_Convention(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z]+_\d{3}$`)
	for code := range ErrorCodeMessage {
		assert.Regexp(t, re, code.String())
	}
}

//Personal.AI order the ending
