package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON / writeError so the API has a
// single response shape:
//
//	{"error": "partial_failure", "message": "...", "completedSteps": ["release-video"]}
//
// completedSteps is only present on partial failures. It tells the client
// which side effects already happened, so it can retry the same request
// instead of guessing.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/clipstream/internal/apperror"
)

// maxJSONBody bounds JSON request bodies. Uploads have their own limits.
const maxJSONBody = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error          string   `json:"error"`   // Machine-readable error kind (e.g., "not_found")
	Message        string   `json:"message"` // Human-readable description
	CompletedSteps []string `json:"completedSteps,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be written before the body.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps an error kind to its HTTP status and error string.
//
// errors.Is walks the whole chain, including both branches of
// AppError.Unwrap, so a service-wrapped error still matches its kind.
// The order matters for PartialFailure: its cause is usually an Upstream
// error, and the partial outcome is what the client must see.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrPartialFailure):
		return http.StatusInternalServerError, "partial_failure"
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, apperror.ErrInvariantViolation):
		return http.StatusConflict, "invariant_violation"
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway, "upstream_failure"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it. The service layer never sees HTTP status codes; this is the
// only place they are chosen.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Raw errors may carry SQL or file paths; never echo them.
		slog.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, kind := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", slog.String("kind", kind), slog.String("error", err.Error()))
	}
	writeJSON(w, status, ErrorResponse{
		Error:          kind,
		Message:        appErr.Message,
		CompletedSteps: apperror.Steps(err),
	})
}

// decodeJSON reads a JSON body into dst. Unknown fields are rejected so
// typos in field names surface as 400 instead of being silently ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "request body is required")
		}
		return apperror.ValidationFailed("body", "invalid JSON body: "+err.Error())
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}
