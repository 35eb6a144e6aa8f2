// Package chaterr defines the error taxonomy shared by the chat service,
// stores and HTTP layer. Errors carry a kind that maps onto an HTTP
// status; wrapping preserves the kind through errors.Is.
package chaterr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy and HTTP mapping.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindNotFound
	KindInvalidTransition
	KindStorage
	KindChannel
)

// Error is a kinded error. Err, when set, is the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports malformed or missing input.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Authorization reports a principal acting outside its permissions.
func Authorization(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing chat, message, participant or attachment.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransition reports an illegal message status transition.
func InvalidTransition(format string, args ...any) error {
	return &Error{Kind: KindInvalidTransition, Msg: fmt.Sprintf(format, args...)}
}

// Storage wraps a durable read or write failure.
func Storage(msg string, err error) error {
	return &Error{Kind: KindStorage, Msg: msg, Err: err}
}

// Channel wraps a publish or subscribe transport failure. Channel errors
// never fail the mutating call that triggered the publish; they are logged
// and counted only.
func Channel(msg string, err error) error {
	return &Error{Kind: KindChannel, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or 0 for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }

// HTTPStatus maps an error to the status code of its envelope.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
