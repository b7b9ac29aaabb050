package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ENVELOPES:
// Every response from the API has one of two shapes:
//
//	{"success": true,  "message": "User berhasil dibuat", "data": {...}}
//	{"success": false, "error": "not_found", "message": "user not found with id 8"}
//
// The frontend branches on "success" first and on "error" (a stable,
// machine-readable kind) second. "message" is for humans only.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/laporketua/identity/internal/apperror"
)

// maxBodyBytes caps request bodies. Identity payloads are tiny.
const maxBodyBytes = 1 << 20

// Envelope is the success response shape.
// TemporaryPassword appears only on user creation without a password.
type Envelope struct {
	Success           bool   `json:"success"`
	Message           string `json:"message,omitempty"`
	Data              any    `json:"data,omitempty"`
	TemporaryPassword string `json:"temporaryPassword,omitempty"`
}

// ErrorResponse is the standard error format returned by all API endpoints.
// It is the same envelope the auth and role-gate middleware write.
type ErrorResponse = apperror.Response

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body is written; once Encode
// writes, later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeOK(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	ErrInvalidCredentials → 401 invalid_credentials
//	ErrForbidden          → 403 forbidden
//	ErrNotFound           → 404 not_found
//	ErrEmailExists        → 409 email_already_exists
//	ErrValidation         → 400 validation_error
//	anything else         → 500 internal
//
// The service layer never knows about status codes; this is the only place
// kinds become HTTP.
//
// Unknown errors are logged with their full chain and answered with a
// generic message. Raw storage errors can contain SQL or file paths.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || apperror.Kind(err) == nil {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   apperror.Code(err),
			Message: "an internal error occurred",
		})
		return
	}

	writeJSON(w, statusFor(err), ErrorResponse{
		Error:   apperror.Code(err),
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

func statusFor(err error) int {
	switch apperror.Kind(err) {
	case apperror.ErrInvalidCredentials:
		return http.StatusUnauthorized // 401
	case apperror.ErrForbidden:
		return http.StatusForbidden // 403
	case apperror.ErrNotFound:
		return http.StatusNotFound // 404
	case apperror.ErrEmailExists:
		return http.StatusConflict // 409
	case apperror.ErrValidation:
		return http.StatusBadRequest // 400
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body into dst. A malformed body is a validation
// failure, not a server error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "request body must be valid JSON")
	}
	return nil
}
