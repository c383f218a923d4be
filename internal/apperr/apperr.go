// Package apperr maps saga outcomes onto HTTP status codes and JSON bodies.
package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind classifies an error for the client.
type Kind int

const (
	Internal Kind = iota
	Validation
	Conflict
	Unavailable
	BadGateway
)

// StatusCode returns the HTTP status for k.
func (k Kind) StatusCode() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case Unavailable:
		return http.StatusServiceUnavailable
	case BadGateway:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ItemDetail names one rejected order line.
type ItemDetail struct {
	ProductID string `json:"productId"`
	Reason    string `json:"reason"`
}

// Error is a client-facing failure.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	Items   []ItemDetail
	Err     error
}

// New returns an Error of kind with message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error of kind with message that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status for e.
func (e *Error) StatusCode() int { return e.Kind.StatusCode() }

type body struct {
	Error   string       `json:"error"`
	Details []string     `json:"details,omitempty"`
	Items   []ItemDetail `json:"items,omitempty"`
}

// Body renders the JSON response body. The cause is never exposed.
func (e *Error) Body() []byte {
	b, _ := json.Marshal(body{Error: e.Message, Details: e.Details, Items: e.Items})
	return b
}

// As extracts an *Error from err, or wraps err as Internal with message.
func As(err error, message string) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(Internal, message, err)
}
