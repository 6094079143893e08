package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrTransport indicates the backend could not be reached.
	ErrTransport = errors.New("connection error")
	// ErrUnauthorized indicates the backend rejected the bearer token (401/403).
	ErrUnauthorized = errors.New("unauthorized")
	// ErrServer indicates the backend answered with an error status.
	ErrServer = errors.New("server error")
	// ErrValidation indicates input was rejected before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrNotLoggedIn occurs when an operation needs a session and none is active.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrForbidden occurs when the current role lacks a capability.
	ErrForbidden = errors.New("forbidden")
)

// UserSafeMessage returns a message suitable for display in the console.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransport):
		return "Could not reach the server. Check your connection."
	case errors.Is(err, ErrUnauthorized):
		return "Session expired or invalid token. Please log in again."
	case errors.Is(err, ErrValidation):
		return "Some fields are invalid."
	case errors.Is(err, ErrNotLoggedIn):
		return "Please log in first."
	case errors.Is(err, ErrForbidden):
		return "You do not have permission to do that."
	case errors.Is(err, ErrNotFound):
		return "Not found."
	default:
		return "Something went wrong. Please try again."
	}
}
