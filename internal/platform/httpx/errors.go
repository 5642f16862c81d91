// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Failure codes carried in structured failures.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeValidation      = "validation_failed"
	CodeInternal        = "internal_error"
)

// RespondError maps domain errors to structured failure responses.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Failure(w, http.StatusNotFound, err.Error(), CodeNotFound)
	case errors.Is(err, ErrDuplicate):
		Failure(w, http.StatusConflict, err.Error(), "duplicate")
	case errors.Is(err, ErrValidation):
		Failure(w, http.StatusBadRequest, err.Error(), CodeValidation)
	case errors.Is(err, ErrForbidden):
		Failure(w, http.StatusForbidden, err.Error(), CodeForbidden)
	case errors.Is(err, ErrUnauthorized):
		Failure(w, http.StatusUnauthorized, err.Error(), CodeUnauthenticated)
	default:
		Failure(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), CodeInternal)
	}
}
