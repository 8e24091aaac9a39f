// Package apperr defines the error taxonomy shared by the domain packages,
// the API client and the sandbox handlers.
package apperr

import (
	"errors"
	"net/http"
)

// Kinds. Every *Error unwraps to exactly one of these.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrExpired         = errors.New("expired")
	ErrAlreadyAccepted = errors.New("already accepted")
	ErrAlreadyExists   = errors.New("already exists")
	ErrNotPending      = errors.New("not pending")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInFlight        = errors.New("operation already in progress")
	ErrTransport       = errors.New("transport failure")
)

// Error carries a kind and a user-facing message.
type Error struct {
	Kind    error
	Message string
}

func New(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

// Validation is shorthand for a validation error on a named field.
func Validation(message string) *Error {
	return New(ErrValidation, message)
}

type kindInfo struct {
	kind   error
	code   string
	status int
	text   string
}

var kinds = []kindInfo{
	{ErrValidation, "validation", http.StatusBadRequest, "The request is invalid."},
	{ErrNotFound, "not_found", http.StatusNotFound, "The item could not be found."},
	{ErrExpired, "expired", http.StatusGone, "This invitation has expired."},
	{ErrAlreadyAccepted, "already_accepted", http.StatusConflict, "This invitation has already been accepted."},
	{ErrAlreadyExists, "already_exists", http.StatusConflict, "An invitation to this address is already pending."},
	{ErrNotPending, "not_pending", http.StatusConflict, "Only pending invitations can be revoked."},
	{ErrForbidden, "forbidden", http.StatusForbidden, "You are not allowed to do that."},
	{ErrUnauthorized, "unauthorized", http.StatusUnauthorized, "Please log in again."},
	{ErrInFlight, "in_flight", http.StatusConflict, "That action is already in progress."},
	{ErrTransport, "transport", http.StatusBadGateway, "Something went wrong. Please try again."},
}

func lookup(err error) (kindInfo, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k, true
		}
	}
	return kindInfo{}, false
}

// Kind returns the taxonomy kind of err, or nil if it has none.
func Kind(err error) error {
	if k, ok := lookup(err); ok {
		return k.kind
	}
	return nil
}

// Code returns the wire code for err. Unclassified errors report "internal".
func Code(err error) string {
	if k, ok := lookup(err); ok {
		return k.code
	}
	return "internal"
}

// Status returns the HTTP status for err.
func Status(err error) int {
	if k, ok := lookup(err); ok {
		return k.status
	}
	return http.StatusInternalServerError
}

// Message returns the text to show a user for err. Domain errors keep their
// specific message; transport and unclassified errors get a generic one.
func Message(err error) string {
	if err == nil {
		return ""
	}
	k, ok := lookup(err)
	if !ok || k.kind == ErrTransport {
		return "Something went wrong. Please try again."
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return k.text
}

// FromResponse rebuilds a taxonomy error from an API error body. The code
// wins when present; otherwise the status decides.
func FromResponse(status int, code, message string) *Error {
	for _, k := range kinds {
		if code != "" && k.code == code {
			return New(k.kind, message)
		}
	}
	var kind error
	switch {
	case status >= 500:
		kind = ErrTransport
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		kind = ErrValidation
	case status == http.StatusUnauthorized:
		kind = ErrUnauthorized
	case status == http.StatusForbidden:
		kind = ErrForbidden
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status == http.StatusGone:
		kind = ErrExpired
	case status == http.StatusConflict:
		kind = ErrAlreadyExists
	default:
		kind = ErrTransport
	}
	return New(kind, message)
}
