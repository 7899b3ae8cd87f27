package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned when there is no signed-in identity. It is never published.
	ErrNoSession = errors.New("storage: no session")

	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound wraps ErrPermissionDenied: a missing record and another tenant's record look the same
	ErrNotFound = fmt.Errorf("%w: not found", ErrPermissionDenied)

	// ErrInvalidInput is the caller's problem and is not published
	ErrInvalidInput = errors.New("invalid input")
)

// IsDenied reports whether err is a permission or not-found failure
func IsDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// deniedError carries the message published for a denial while still matching ErrPermissionDenied
type deniedError struct {
	msg  string
	kind error
}

func (e *deniedError) Error() string { return e.msg }
func (e *deniedError) Unwrap() error { return e.kind }

func denied(msg string) error {
	return &deniedError{msg: msg, kind: ErrPermissionDenied}
}

func notFound(msg string) error {
	return &deniedError{msg: msg, kind: ErrNotFound}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// remoteError keeps the human message for the error channel and the source's error for errors.Is/As
type remoteError struct {
	msg string
	err error
}

func (e *remoteError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *remoteError) Unwrap() error { return e.err }

func remote(msg string, err error) error {
	return &remoteError{msg: msg, err: err}
}
