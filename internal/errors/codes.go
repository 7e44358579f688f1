// Package errors provides structured error handling for xrefsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index errors (missing files, mmap, corrupt payloads)
//   - 3XX: Daemon and network errors
//   - 4XX: Request errors (queries, trees, symbols)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIndex indicates on-disk index errors.
	CategoryIndex Category = "INDEX"
	// CategoryDaemon indicates full-text daemon and transport errors.
	CategoryDaemon Category = "DAEMON"
	// CategoryRequest indicates a problem with the caller's request.
	CategoryRequest Category = "REQUEST"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates the server cannot continue serving the tree.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the server continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded results.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Index errors (200-299)
	ErrCodeIndexMissing = "ERR_201_INDEX_MISSING"
	ErrCodeIndexMap     = "ERR_202_INDEX_MAP"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"

	// Daemon errors (300-399)
	ErrCodeDaemonTimeout     = "ERR_301_DAEMON_TIMEOUT"
	ErrCodeDaemonUnavailable = "ERR_302_DAEMON_UNAVAILABLE"
	ErrCodeDaemonSpawn       = "ERR_303_DAEMON_SPAWN"
	ErrCodeDaemonRPC         = "ERR_304_DAEMON_RPC"

	// Request errors (400-499)
	ErrCodeInvalidQuery   = "ERR_403_INVALID_QUERY"
	ErrCodeUnknownTree    = "ERR_404_UNKNOWN_TREE"
	ErrCodeSymbolNotFound = "ERR_405_SYMBOL_NOT_FOUND"
	ErrCodeRateLimited    = "ERR_429_RATE_LIMITED"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeSearchFailed   = "ERR_503_SEARCH_FAILED"
	ErrCodeRequestTimeout = "ERR_504_REQUEST_TIMEOUT"
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
		return CategoryIndex
	case '3':
		return CategoryDaemon
	case '4':
		return CategoryRequest
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexMissing, ErrCodeIndexMap:
		return SeverityFatal
	case ErrCodeCorruptIndex:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeDaemonTimeout, ErrCodeDaemonUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error code to the status the HTTP front end reports.
func HTTPStatus(code string) int {
	switch code {
	case ErrCodeInvalidQuery:
		return 400
	case ErrCodeUnknownTree, ErrCodeSymbolNotFound:
		return 404
	case ErrCodeRateLimited:
		return 429
	case ErrCodeRequestTimeout:
		return 504
	default:
		return 500
	}
}
