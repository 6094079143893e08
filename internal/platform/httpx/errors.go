// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/wayne-enterprises/wayne-console/internal/backend"
	"github.com/wayne-enterprises/wayne-console/internal/shared"
)

// ValidationProblem extends ProblemDetail with per-field messages.
type ValidationProblem struct {
	ProblemDetail
	Fields map[string]string `json:"fields,omitempty"`
}

// RespondError maps domain and backend errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	if be, ok := backend.AsError(err); ok && be.Kind == backend.KindValidation {
		JSON(w, http.StatusBadRequest, ValidationProblem{
			ProblemDetail: ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest, Detail: be.Message},
			Fields:        be.Fields,
		})
		return
	}
	switch {
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrNotLoggedIn):
		Problem(w, http.StatusUnauthorized, "Unauthorized", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrUnauthorized):
		status := http.StatusUnauthorized
		if be, ok := backend.AsError(err); ok && be.Status == http.StatusForbidden {
			status = http.StatusForbidden
		}
		Problem(w, status, http.StatusText(status), messageOf(err))
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", messageOf(err))
	case errors.Is(err, shared.ErrTransport):
		Problem(w, http.StatusBadGateway, "Backend Unreachable", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrServer):
		Problem(w, http.StatusBadGateway, "Backend Error", messageOf(err))
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func messageOf(err error) string {
	if be, ok := backend.AsError(err); ok {
		return be.Message
	}
	return shared.UserSafeMessage(err)
}
