// Package api provides the HTTP and WebSocket surface of the orbit server,
// including standardized error handling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/orbit/internal/event"
	"github.com/onnwee/orbit/internal/geo"
	"github.com/onnwee/orbit/internal/ingest"
	"github.com/onnwee/orbit/internal/middleware"
	"github.com/onnwee/orbit/internal/rules"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeNotFound indicates the requested route was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeMethodNotAllowed indicates the route exists but not for this method.
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = middleware.ErrCodeRateLimited

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	ErrCodeEventNotFound      = "event_not_found"
	ErrCodeMemberNotFound     = "member_not_found"
	ErrCodeRuleNotFound       = "rule_not_found"
	ErrCodeSharingDisabled    = "sharing_disabled"
	ErrCodeInvalidGeofence    = "invalid_geofence"
	ErrCodeInvalidTimeRange   = "invalid_time_range"
	ErrCodeInvalidCoordinates = "invalid_coordinates"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response.
// It writes the appropriate HTTP status code and returns a JSON error body.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// The error_code will be automatically logged by the logging middleware
// for all 4xx and 5xx responses if you call SetErrorCode on the context
// and pass the updated context to WriteError.
//
// Example:
//
//	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeEventNotFound)
//	WriteError(w, ctx, http.StatusNotFound, api.ErrCodeEventNotFound, "Event not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	// Update the context in the response writer if supported (for logging middleware)
	middleware.UpdateResponseContext(w, ctx)

	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}

	data, err := json.Marshal(errResp)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// writeCodedError tags the request context with code and writes the envelope.
func writeCodedError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, status, code, message)
}

// ErrorStatus maps a domain error to its HTTP status and error code.
// Unknown errors map to 500 internal_error.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, event.ErrEventNotFound):
		return http.StatusNotFound, ErrCodeEventNotFound
	case errors.Is(err, event.ErrMemberNotFound):
		return http.StatusNotFound, ErrCodeMemberNotFound
	case errors.Is(err, rules.ErrRuleNotFound):
		return http.StatusNotFound, ErrCodeRuleNotFound
	case errors.Is(err, ingest.ErrSharingDisabled):
		return http.StatusForbidden, ErrCodeSharingDisabled
	case errors.Is(err, event.ErrInvalidGeofence):
		return http.StatusBadRequest, ErrCodeInvalidGeofence
	case errors.Is(err, event.ErrInvalidTimeRange):
		return http.StatusBadRequest, ErrCodeInvalidTimeRange
	case errors.Is(err, geo.ErrInvalidCoordinates):
		return http.StatusBadRequest, ErrCodeInvalidCoordinates
	case errors.Is(err, event.ErrInvalidTitle),
		errors.Is(err, event.ErrInvalidBlur),
		errors.Is(err, event.ErrInvalidMember),
		errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, ingest.ErrInvalidSource),
		errors.Is(err, ingest.ErrInvalidAccuracy),
		errors.Is(err, ingest.ErrInaccurateFix):
		return http.StatusBadRequest, ErrCodeValidation
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeServiceError writes the envelope for an error returned by a domain
// service. Internal errors are logged and their message is not exposed.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := ErrorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "error", err)
		message = "Internal server error"
	}
	writeCodedError(w, r, status, code, message)
}

// decodeJSON reads a JSON request body into dst. Unknown fields are rejected.
// On failure it writes a 400 bad_request response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeCodedError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return false
	}
	return true
}

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Log error but response already started
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
