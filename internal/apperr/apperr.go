// Package apperr defines the error kinds shared by the service packages.
// Every error returned by a service wraps exactly one of the sentinels below,
// so callers classify failures with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrValidationFailed       = errors.New("validation failed")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
)

// NotFound returns an error wrapping ErrNotFound
func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

// Validation returns an error wrapping ErrValidationFailed
func Validation(format string, args ...any) error {
	return wrap(ErrValidationFailed, format, args...)
}

// Capacity returns an error wrapping ErrCapacityExceeded
func Capacity(format string, args ...any) error {
	return wrap(ErrCapacityExceeded, format, args...)
}

// InvalidTransition returns an error wrapping ErrInvalidStateTransition
func InvalidTransition(format string, args ...any) error {
	return wrap(ErrInvalidStateTransition, format, args...)
}

// Unauthorized returns an error wrapping ErrUnauthorized
func Unauthorized(format string, args ...any) error {
	return wrap(ErrUnauthorized, format, args...)
}

// Forbidden returns an error wrapping ErrForbidden
func Forbidden(format string, args ...any) error {
	return wrap(ErrForbidden, format, args...)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Message strips the kind prefix and returns the human readable part of err
func Message(err error) string {
	for _, kind := range []error{
		ErrNotFound, ErrValidationFailed, ErrCapacityExceeded,
		ErrInvalidStateTransition, ErrUnauthorized, ErrForbidden,
	} {
		prefix := kind.Error() + ": "
		if msg := err.Error(); errors.Is(err, kind) && len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return err.Error()
}
