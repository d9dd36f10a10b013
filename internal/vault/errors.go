package vault

import (
	"errors"
	"fmt"
)

// ErrUnsupportedOperation is returned when an operation does not exist for
// the client's KV format, such as a permanent delete against KV v1.
var ErrUnsupportedOperation = errors.New("operation not supported by this KV format")

// NotFoundError is returned when the store answers 404 for a path.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("secret not found at %s", e.Path)
}

// UnavailableError is returned when the store could not be reached at all
// (timeouts, refused connections, exhausted retries without a response).
type UnavailableError struct {
	Op   string
	Path string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vault unavailable during %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// StoreError is any other non-2xx answer. Body keeps the store's response
// so the failure can be diagnosed without re-running.
type StoreError struct {
	Op         string
	Path       string
	StatusCode int
	Body       string
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("vault returned status %d during %s %s", e.StatusCode, e.Op, e.Path)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// InvalidPathError is returned for paths without both a mount and a name.
type InvalidPathError struct {
	Path string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid secret path %q (expected mount/name)", e.Path)
}

// ValidationFailure marks a malformed path as a caller error.
func (e *InvalidPathError) ValidationFailure() bool { return true }

// IsNotFound reports whether err (or anything it wraps) is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StoreError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	if IsNotFound(err) {
		return 404
	}
	return 0
}
