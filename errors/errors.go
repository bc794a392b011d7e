package errors

import (
	"fmt"
	"time"
)

// Error is a coded error carrying a category, an optional cause and
// free-form metadata such as the process role involved.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool // nil means use default based on category
	timestamp time.Time
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRole records the process role an error concerns.
func WithRole(role string) Option {
	return WithMetadata("role", role)
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config creates a configuration error.
func Config(message string, cause error) *Error {
	return New(ErrCodeConfig, message, WithCause(cause))
}

// StoreConnect creates a store connection error.
func StoreConnect(message string, cause error) *Error {
	return New(ErrCodeStoreConnect, message, WithCause(cause))
}

// StoreWrite creates a store write error.
func StoreWrite(message string, cause error) *Error {
	return New(ErrCodeStoreWrite, message, WithCause(cause))
}

// ChildSpawn creates a spawn error for the given role.
func ChildSpawn(role string, cause error) *Error {
	return New(ErrCodeChildSpawn, fmt.Sprintf("spawn %s", role), WithCause(cause), WithRole(role))
}

// ChildCrash creates a crash error for the given role.
func ChildCrash(role string, exitCode int, signal string) *Error {
	msg := fmt.Sprintf("%s exited with code %d", role, exitCode)
	if signal != "" {
		msg = fmt.Sprintf("%s killed by %s", role, signal)
	}
	return New(ErrCodeChildCrash, msg, WithRole(role))
}
