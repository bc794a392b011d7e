package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: store not yet accepting connections, a dropped write.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: malformed configuration, a missing executable.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected process or runtime failures.
	// Examples: a child crashed, a terminate step panicked.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	ErrCodeConfig          ErrorCode = "CONFIG"           // Configuration unreadable or invalid
	ErrCodeStoreConnect    ErrorCode = "STORE_CONNECT"    // Store unreachable
	ErrCodeStoreWrite      ErrorCode = "STORE_WRITE"      // Append to a log failed
	ErrCodeChildSpawn      ErrorCode = "CHILD_SPAWN"      // Child process could not be started
	ErrCodeChildCrash      ErrorCode = "CHILD_CRASH"      // Child process exited unexpectedly
	ErrCodeShutdownTimeout ErrorCode = "SHUTDOWN_TIMEOUT" // Graceful step expired, forceful step used

	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeCanceled    ErrorCode = "CANCELED"    // Operation was canceled
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED" // Operation not supported by this backend
	ErrCodeInternal    ErrorCode = "INTERNAL"    // Unexpected internal error
	ErrCodePanic       ErrorCode = "PANIC"       // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeStoreConnect, ErrCodeStoreWrite, ErrCodeTimeout:
		return CategoryTransient
	case ErrCodeConfig, ErrCodeChildSpawn, ErrCodeUnsupported, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeConfig:          "configuration error",
	ErrCodeStoreConnect:    "store unreachable",
	ErrCodeStoreWrite:      "store write failed",
	ErrCodeChildSpawn:      "child process spawn failed",
	ErrCodeChildCrash:      "child process crashed",
	ErrCodeShutdownTimeout: "graceful shutdown timed out",
	ErrCodeTimeout:         "operation timed out",
	ErrCodeCanceled:        "operation canceled",
	ErrCodeUnsupported:     "operation not supported",
	ErrCodeInternal:        "internal error",
	ErrCodePanic:           "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
