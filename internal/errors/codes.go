// Package errors provides structured error handling for StoryRank.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Document store errors
//   - 3XX: Provider (remote model API) errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates document store errors.
	CategoryStore Category = "STORE"
	// CategoryProvider indicates remote model provider errors.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeStoreQuery       = "ERR_202_STORE_QUERY_FAILED"
	ErrCodeVectorIndex      = "ERR_203_VECTOR_INDEX_MISSING"

	// Provider errors (300-399)
	ErrCodeRateLimitExceeded = "ERR_301_RATE_LIMIT_EXCEEDED"
	ErrCodeProviderFailure   = "ERR_302_PROVIDER_FAILURE"
	ErrCodeEmbeddingFailed   = "ERR_303_EMBEDDING_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidQuery   = "ERR_401_INVALID_QUERY"
	ErrCodeQueryEmpty     = "ERR_402_QUERY_EMPTY"
	ErrCodeInvalidWeights = "ERR_403_INVALID_WEIGHTS"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
// Store and config errors abort the operation; provider errors are
// typically degraded-but-continuing at the call site.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig, CategoryStore:
		return SeverityFatal
	case CategoryProvider:
		return SeverityError
	case CategoryValidation:
		return SeverityError
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code
// may succeed on retry.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimitExceeded, ErrCodeStoreUnavailable, ErrCodeEmbeddingFailed:
		return true
	default:
		return false
	}
}
