package api

import (
	"errors"
	"fmt"
	"net/http"

	"plagiscan/internal/store"
)

// ErrValidation indicates a malformed ingest request.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrRateLimited indicates the tenant's ingest bucket is empty.
type ErrRateLimited struct {
	Tenant string
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited: %s", e.Tenant)
}

// httpStatus returns the HTTP status code for an error.
func httpStatus(err error) int {
	var verr *ErrValidation
	var rerr *ErrRateLimited
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateJob):
		return http.StatusConflict
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &rerr):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
