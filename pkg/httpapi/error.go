package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
)

const (
	CodeInternal = "INTERNAL"

	internalMessage = "internal error"
)

// ErrorEnvelope is the JSON body of every API error response.
type ErrorEnvelope struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Coded is implemented by domain errors that are safe to show to API clients.
type Coded interface {
	error
	HTTPStatus() int
	ErrorCode() string
	PublicMessage() string
}

// Error is an API error response under construction.
type Error struct {
	Status int
	ErrorEnvelope
}

func NewError(status int, code, message string) *Error {
	return &Error{Status: status, ErrorEnvelope: ErrorEnvelope{Code: code, Message: message}}
}

// FromError converts err into a response. Errors without a public code become
// a generic 500 so driver or SQL text never reaches the client.
func FromError(err error) *Error {
	var coded Coded
	if errors.As(err, &coded) {
		return NewError(coded.HTTPStatus(), coded.ErrorCode(), coded.PublicMessage())
	}
	return NewError(http.StatusInternalServerError, CodeInternal, internalMessage)
}

// With adds a meta entry; empty values are skipped.
func (e *Error) With(key, value string) *Error {
	if value == "" {
		return e
	}
	if e.Meta == nil {
		e.Meta = map[string]string{}
	}
	e.Meta[key] = value
	return e
}

func (e *Error) WithRequestID(requestID string) *Error {
	return e.With("request_id", requestID)
}

func (e *Error) Internal() bool {
	return e.Status >= http.StatusInternalServerError
}

func (e *Error) Write(w http.ResponseWriter) error {
	return WriteJSON(w, e.Status, &e.ErrorEnvelope)
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}
