// Package apierr translates internal errors into the JSON error taxonomy
// of spec §7: {error, code, detail}, plus a correlation id for operator
// lookup.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/go-chi/chi/v5/middleware"
)

// Code is one of the error taxonomy members of spec §7.
type Code string

const (
	CodeValidation         Code = "validation"
	CodeAuthRequired       Code = "auth_required"
	CodeAuthInvalid        Code = "auth_invalid"
	CodePermissionDenied   Code = "permission_denied"
	CodeNotFound           Code = "not_found"
	CodeVersionMismatch    Code = "version_mismatch"
	CodeIdempotencyConflict Code = "idempotency_conflict"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeBusUnavailable     Code = "bus_unavailable"
	CodeRateLimited        Code = "rate_limited"
	CodeInternal           Code = "internal"
)

type body struct {
	Error  string `json:"error"`
	Code   Code   `json:"code"`
	Detail string `json:"detail,omitempty"`
	Correlation string `json:"correlation_id,omitempty"`
}

// Write responds with status, code, and a human detail, tagging the
// response with the chi request id as correlation id. detail must never
// contain internal query text or stack traces.
func Write(w http.ResponseWriter, r *http.Request, status int, code Code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body{
		Error:       string(code),
		Code:        code,
		Detail:      detail,
		Correlation: middleware.GetReqID(r.Context()),
	})
}

// FromStoreError maps a store-layer error to its HTTP status and code,
// falling back to 500/internal for anything unrecognized.
func FromStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *store.ErrNotFound
	var versionMismatch *store.ErrVersionMismatch
	var permDenied *store.ErrPermissionDenied
	var sizeExceeded *store.ErrSizeExceeded

	switch {
	case errors.As(err, &notFound):
		Write(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
	case errors.As(err, &versionMismatch):
		Write(w, r, http.StatusPreconditionFailed, CodeVersionMismatch, err.Error())
	case errors.As(err, &permDenied):
		Write(w, r, http.StatusForbidden, CodePermissionDenied, err.Error())
	case errors.As(err, &sizeExceeded):
		Write(w, r, http.StatusRequestEntityTooLarge, CodeValidation, err.Error())
	default:
		Write(w, r, http.StatusInternalServerError, CodeInternal, "unexpected error")
	}
}
