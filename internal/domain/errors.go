package domain

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ErrorKind classifies failures surfaced by the cart and session layers.
type ErrorKind string

const (
	// KindValidation covers quantity/stock violations. They are resolved locally by clamping.
	KindValidation ErrorKind = "validation"
	// KindNetwork covers connectivity failures.
	KindNetwork ErrorKind = "network"
	// KindSessionExpired means the refresh token was rejected and the session was ended.
	KindSessionExpired ErrorKind = "session_expired"
	// KindServer covers 4xx/5xx responses from the cart and auth endpoints.
	KindServer ErrorKind = "server"
)

const (
	MessageNetwork        = "Connection error. Please try again."
	MessageSessionExpired = "Session expired. Please sign in again."
	MessageServerFallback = "Something went wrong. Please try again."
)

var (
	// ErrSessionExpired matches any *Error of KindSessionExpired via errors.Is.
	ErrSessionExpired = errors.New("session expired")
	// ErrNetwork matches any *Error of KindNetwork via errors.Is.
	ErrNetwork = errors.New("network unavailable")
)

var messagePolicy = bluemonday.StrictPolicy()

// Error is the typed error returned by every network-facing operation.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is lets callers test the kind with the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrSessionExpired:
		return e.Kind == KindSessionExpired
	case ErrNetwork:
		return e.Kind == KindNetwork
	}
	return false
}

// NetworkError wraps a transport failure.
func NetworkError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// SessionExpiredError reports that the session could not be refreshed.
func SessionExpiredError(op string, err error) *Error {
	return &Error{Kind: KindSessionExpired, Op: op, Err: err}
}

// ServerError reports a non-success response. Markup in the server message is stripped.
func ServerError(op string, status int, message string) *Error {
	return &Error{Kind: KindServer, Op: op, Status: status, Message: SanitizeMessage(message)}
}

// SanitizeMessage strips markup and surrounding whitespace from a server-provided message.
// The result is plain text: entities escaped by the sanitizer are decoded again.
func SanitizeMessage(message string) string {
	return strings.TrimSpace(html.UnescapeString(messagePolicy.Sanitize(message)))
}

// KindOf returns the error kind, or "" when err is not a *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UserMessage returns the text to show the user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return MessageServerFallback
	}
	switch e.Kind {
	case KindNetwork:
		return MessageNetwork
	case KindSessionExpired:
		return MessageSessionExpired
	case KindServer:
		if e.Message != "" {
			return e.Message
		}
	}
	return MessageServerFallback
}
