// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors the HTTP layer maps to status codes. Domain packages wrap them.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("authentication credentials were not provided")
)

// FieldError is an error scoped to a single request field.
type FieldError interface {
	error
	FieldName() string
}

// RespondError maps domain errors to HTTP responses using RFC7807. Field-scoped
// errors render as {"<field>": ["<message>"]} with the status their sentinel implies.
func RespondError(w http.ResponseWriter, err error) {
	status, title := statusOf(err)
	var fe FieldError
	if errors.As(err, &fe) && status != http.StatusInternalServerError {
		Fields(w, status, map[string][]string{fe.FieldName(): {fe.Error()}})
		return
	}
	detail := ""
	if status != http.StatusInternalServerError {
		detail = err.Error()
	}
	Problem(w, status, title, detail)
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict, "Duplicate"
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

// IsClientError reports whether err maps to a 4xx response.
func IsClientError(err error) bool {
	status, _ := statusOf(err)
	return status < http.StatusInternalServerError
}
