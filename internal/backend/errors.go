package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/wayne-enterprises/wayne-console/internal/shared"
)

// Kind classifies a failed backend call.
type Kind string

const (
	// KindTransport means no response was received.
	KindTransport Kind = "transport"
	// KindAuth means the backend answered 401 or 403, or rejected a login.
	KindAuth Kind = "auth"
	// KindServer means the backend answered with another error status.
	KindServer Kind = "server"
	// KindValidation means input was rejected before any request was sent.
	KindValidation Kind = "validation"
)

const connectionErrorMessage = "connection error"

// Error is the single error shape returned by the client.
type Error struct {
	Kind    Kind              `json:"kind"`
	Status  int               `json:"status"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("backend %s %d: %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("backend %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the shared error taxonomy sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case shared.ErrTransport:
		return e.Kind == KindTransport
	case shared.ErrUnauthorized:
		return e.Kind == KindAuth
	case shared.ErrServer:
		return e.Kind == KindServer
	case shared.ErrValidation:
		return e.Kind == KindValidation
	case shared.ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// IsAuth reports whether err is an authoritative session-invalid signal.
func IsAuth(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindAuth
}

// AsError extracts the *Error from err.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Status: 0, Message: connectionErrorMessage, Err: err}
}

func statusError(status int, body []byte) *Error {
	kind := KindServer
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = KindAuth
	}
	e := &Error{Kind: kind, Status: status, Message: messageFrom(body)}
	if json.Valid(body) {
		e.Data = json.RawMessage(body)
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("request failed with status %d", status)
	}
	return e
}

func validationError(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// messageFrom pulls a human message out of an error body. FastAPI uses
// "detail", the console envelope uses "message", the legacy login uses "error".
func messageFrom(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	var detail string
	if len(payload.Detail) > 0 && json.Unmarshal(payload.Detail, &detail) == nil && detail != "" {
		return detail
	}
	return payload.Error
}
