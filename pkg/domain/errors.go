package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so transports can map it without string matching
type Kind string

const (
	KindUnauthorized     Kind = "unauthorized"
	KindNotFound         Kind = "not_found"
	KindInvalidReference Kind = "invalid_reference"
	KindForbidden        Kind = "forbidden"
	KindStorageFailure   Kind = "storage_failure"
	KindInvalidInput     Kind = "invalid_input"
	KindConflict         Kind = "conflict"
)

var (
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidReference = &Error{Kind: KindInvalidReference}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrStorageFailure   = &Error{Kind: KindStorageFailure}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrConflict         = &Error{Kind: KindConflict}
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds a classified error
func E(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity
func NotFound(op, entity string, id int64) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s not found: %d", entity, id)}
}

// StorageFailure wraps a backend error
func StorageFailure(op string, err error) *Error {
	return &Error{Kind: KindStorageFailure, Op: op, Message: "storage failure", Err: err}
}

// KindOf extracts the kind of err. Unclassified errors count as storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageFailure
}

// IsRetryable reports whether a caller may transparently retry
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindStorageFailure
}
