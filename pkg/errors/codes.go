package errors

import (
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Aliases used across the code base.
const (
	CodeUnknown      = ErrorCode("")
	CodeOK           = ErrorCode("OK")
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
)

// Inference Engine Error Codes
const (
	ErrCodeInvalidConfig        ErrorCode = "ABC_001"
	ErrCodeCollaboratorFailed   ErrorCode = "ABC_002"
	ErrCodePopulationMismatch   ErrorCode = "ABC_003"
	ErrCodeReferenceFailed      ErrorCode = "ABC_004"
	ErrCodeDimensionMismatch    ErrorCode = "ABC_005"
	ErrCodeCancelled            ErrorCode = "ABC_006"
	ErrCodeTrialCapExceeded     ErrorCode = "ABC_007"
	ErrCodeProposalExhausted    ErrorCode = "ABC_008"
	ErrCodeRunNotFound          ErrorCode = "ABC_009"
	ErrCodeUnknownCollaborator  ErrorCode = "ABC_010"
	ErrCodeDegenerateWeights    ErrorCode = "ABC_011"
)

// Infrastructure Error Codes
const (
	ErrCodeDatabaseError     ErrorCode = "STORE_001"
	ErrCodeCacheError        ErrorCode = "STORE_002"
	ErrCodeStorageError      ErrorCode = "STORE_003"
	ErrCodeMessageQueueError ErrorCode = "STORE_004"
	ErrCodeLockNotAcquired   ErrorCode = "STORE_005"
)

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeInvalidConfig:       "invalid inference configuration",
	ErrCodeCollaboratorFailed:  "collaborator call failed",
	ErrCodePopulationMismatch:  "population count does not match supplied lists",
	ErrCodeReferenceFailed:     "failed to compute reference summary",
	ErrCodeDimensionMismatch:   "vector dimension mismatch",
	ErrCodeCancelled:           "inference cancelled",
	ErrCodeTrialCapExceeded:    "maximum trial count exceeded",
	ErrCodeProposalExhausted:   "no proposal inside prior support",
	ErrCodeRunNotFound:         "inference run not found",
	ErrCodeUnknownCollaborator: "unknown collaborator variant",
	ErrCodeDegenerateWeights:   "importance weights are degenerate",

	ErrCodeDatabaseError:     "database error",
	ErrCodeCacheError:        "cache error",
	ErrCodeStorageError:      "object storage error",
	ErrCodeMessageQueueError: "message queue error",
	ErrCodeLockNotAcquired:   "lock is held by another owner",
}

// exitCodes maps error codes to process exit statuses used by the CLI.
var exitCodes = map[ErrorCode]int{
	ErrCodeBadRequest:          2,
	ErrCodeValidation:          2,
	ErrCodeInvalidConfig:       2,
	ErrCodePopulationMismatch:  2,
	ErrCodeDimensionMismatch:   2,
	ErrCodeUnknownCollaborator: 2,
	ErrCodeTrialCapExceeded:    3,
	ErrCodeProposalExhausted:   3,
	ErrCodeCancelled:           130,
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// ExitCodeForCode returns the process exit status for an ErrorCode.
func ExitCodeForCode(code ErrorCode) int {
	if status, ok := exitCodes[code]; ok {
		return status
	}
	return 1
}

// IsConfigError reports whether the code describes a caller configuration
// problem detected before any simulation work started.
func IsConfigError(code ErrorCode) bool {
	return ExitCodeForCode(code) == 2
}

// IsRetryable reports whether an operation that failed with code may succeed
// when repeated unchanged.
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeCollaboratorFailed, ErrCodeDatabaseError, ErrCodeCacheError,
		ErrCodeStorageError, ErrCodeMessageQueueError, ErrCodeServiceUnavailable,
		ErrCodeTimeout, ErrCodeLockNotAcquired:
		return true
	}
	return false
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}

//Personal.AI order the ending
