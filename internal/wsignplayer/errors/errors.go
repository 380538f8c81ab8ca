// Package errors provides standardized error handling for the Wrale Signage player
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every player component
var (
	// ErrNotPaired indicates there is no device token; the caller must re-pair
	ErrNotPaired = errors.New("display not paired")

	// ErrUnauthorized indicates the backend rejected the device token or pairing code
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable indicates a transport failure with no usable fallback
	ErrUnavailable = errors.New("backend unavailable")

	// ErrMediaUnavailable indicates a media cache miss while offline
	ErrMediaUnavailable = errors.New("media unavailable")

	// ErrInsufficientStorage indicates eviction could not free enough space
	ErrInsufficientStorage = errors.New("insufficient storage")

	// ErrChecksumMismatch indicates a cached file no longer matches its checksum
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrNotFound indicates the backend no longer knows the display, or a key is absent
	ErrNotFound = errors.New("resource not found")

	// ErrCodeExpired indicates a pairing code expired before confirmation
	ErrCodeExpired = errors.New("pairing code expired")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")
)

// Error represents a domain error with additional context
type Error struct {
	// Code is a machine-readable error code
	Code string
	// Message is a human-readable error description
	Message string
	// Op describes the operation that failed
	Op string
	// Err is the underlying error
	Err error
}

// Error implements the error interface with a formatted message
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain handling
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given details
func NewError(code string, message string, op string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text
func New(text string) error {
	return errors.New(text)
}

// CodeOf returns the Code of the outermost *Error in the chain, or "" if none
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotPaired returns true if err represents a missing device token
func IsNotPaired(err error) bool {
	return errors.Is(err, ErrNotPaired)
}

// IsUnauthorized returns true if err represents a rejected credential
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsUnavailable returns true if err represents a transport failure
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsMediaUnavailable returns true if err represents an offline cache miss
func IsMediaUnavailable(err error) bool {
	return errors.Is(err, ErrMediaUnavailable)
}

// IsInsufficientStorage returns true if err represents storage exhaustion
func IsInsufficientStorage(err error) bool {
	return errors.Is(err, ErrInsufficientStorage)
}

// IsChecksumMismatch returns true if err represents detected corruption
func IsChecksumMismatch(err error) bool {
	return errors.Is(err, ErrChecksumMismatch)
}

// IsNotFound returns true if err represents a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCodeExpired returns true if err represents an expired pairing code
func IsCodeExpired(err error) bool {
	return errors.Is(err, ErrCodeExpired)
}
