// Package engineerr defines the typed failures the Session Lifecycle Engine
// raises, so the HTTP router can translate them to envelopes without
// string-matching error messages.
package engineerr

import (
	"fmt"
	"net/http"
)

// Kind identifies a class of engine failure.
type Kind string

const (
	KindAuthRejected     Kind = "AuthRejected"
	KindKeyNotRegistered Kind = "KeyNotRegistered"
	KindSessionNotFound  Kind = "SessionNotFound"
	KindSessionLoggedOut Kind = "SessionLoggedOut"
	KindSessionLocked    Kind = "SessionLocked"
	KindNotConnected     Kind = "NotConnected"
	KindValidation       Kind = "ValidationError"
	KindKeyExhaustion    Kind = "KeyExhaustion"
	KindInternal         Kind = "Internal"
)

// Error is the single typed-failure type raised across the engine.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Detail     interface{}
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches an underlying cause to an existing Error without changing
// its surfaced kind, message, or status.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, HTTPStatus: e.HTTPStatus, Detail: e.Detail, cause: cause}
}

func AuthRejected() *Error {
	return &Error{Kind: KindAuthRejected, Message: "Invalid secret key", HTTPStatus: http.StatusForbidden}
}

func KeyNotRegistered() *Error {
	return &Error{Kind: KindKeyNotRegistered, Message: "API key not registered", HTTPStatus: http.StatusForbidden}
}

func SessionNotFound() *Error {
	return &Error{Kind: KindSessionNotFound, Message: "Whatsapp session not found", HTTPStatus: http.StatusNotFound}
}

func SessionLoggedOut() *Error {
	return &Error{Kind: KindSessionLoggedOut, Message: "Session is logged out", HTTPStatus: http.StatusConflict}
}

// SessionLocked reports that another process owns the session's lock;
// ownerID is surfaced so the caller can route by stickiness.
func SessionLocked(ownerID string) *Error {
	return &Error{
		Kind:       KindSessionLocked,
		Message:    fmt.Sprintf("Session is currently handled by another instance (%s)", ownerID),
		HTTPStatus: http.StatusLocked,
		Detail:     map[string]string{"owner": ownerID},
	}
}

func NotConnected() *Error {
	return &Error{Kind: KindNotConnected, Message: "Session not connected", HTTPStatus: http.StatusServiceUnavailable}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message, HTTPStatus: http.StatusBadRequest}
}

func KeyExhaustion() *Error {
	return &Error{
		Kind:       KindKeyExhaustion,
		Message:    "Unable to generate API key, please retry",
		HTTPStatus: http.StatusInternalServerError,
	}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "Internal server error", HTTPStatus: http.StatusInternalServerError, cause: cause}
}

// As extracts an *Error from a generic error, if any layer in the chain is one.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}
