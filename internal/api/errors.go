package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sinapsi/sinapsi-core/internal/adapters"
	"github.com/sinapsi/sinapsi-core/internal/catalog"
	"github.com/sinapsi/sinapsi-core/internal/continuation"
	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnavailable = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a sentinel from the domain packages to a status.
// Anything unrecognised is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrMacroNotFound),
		errors.Is(err, catalog.ErrExecutionNotFound),
		errors.Is(err, engine.ErrMissingMacro),
		errors.Is(err, adapters.ErrPromptNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, catalog.ErrMacroExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, catalog.ErrInvalidMacro),
		errors.Is(err, engine.ErrInvalidMacro),
		errors.Is(err, engine.ErrInvalidDescriptor),
		errors.Is(err, engine.ErrUnknownComponent),
		errors.Is(err, engine.ErrWrongComponentKind),
		errors.Is(err, engine.ErrInvalidParameters),
		errors.Is(err, adapters.ErrInvalidAnswer),
		errors.Is(err, continuation.ErrMalformedEnvelope),
		errors.Is(err, continuation.ErrUnknownMessageType):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
