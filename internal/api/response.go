package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"identity/internal/identity"
)

const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, message)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "An internal error occurred")
}

// handleServiceError translates engine errors to the error envelope. Every
// expected failure has a stable code; anything else is logged and reported
// as an opaque internal error.
func handleServiceError(w http.ResponseWriter, err error) {
	var validation *identity.ValidationError
	var rateLimit *identity.RateLimitError

	switch {
	case errors.As(err, &validation):
		badRequest(w, validation.Error())
	case errors.As(err, &rateLimit):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimit.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimitExceeded, rateLimit.Error())
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid credentials")
	case errors.Is(err, identity.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidToken, "Invalid or expired token")
	case errors.Is(err, identity.ErrUnauthorized):
		unauthorized(w, "Unauthorized")
	case errors.Is(err, identity.ErrAccountBlocked):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "Account is blocked")
	case errors.Is(err, identity.ErrAccountNotActivated):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "Account is not activated")
	case errors.Is(err, identity.ErrDeviceMismatch):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "Token presented from a different device")
	case errors.Is(err, identity.ErrEmailTaken):
		writeError(w, http.StatusConflict, ErrCodeConflict, "Email is already registered")
	case errors.Is(err, identity.ErrNationalIDTaken):
		writeError(w, http.StatusConflict, ErrCodeConflict, "National id is already registered")
	case errors.Is(err, identity.ErrAlreadyVerified):
		writeError(w, http.StatusConflict, ErrCodeConflict, "Email is already verified")
	case errors.Is(err, identity.ErrTokenAlreadyRotated):
		writeError(w, http.StatusConflict, ErrCodeConflict, "Refresh token was already rotated")
	case errors.Is(err, identity.ErrProfileLocked):
		writeError(w, http.StatusConflict, ErrCodeConflict, "Profile cannot be edited until the account is activated")
	case errors.Is(err, identity.ErrPasswordReuse):
		writeError(w, http.StatusConflict, ErrCodeConflict, "New password must differ from the current one")
	case errors.Is(err, identity.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
	case errors.Is(err, identity.ErrRegistrationNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "No matching pending registration")
	default:
		slog.Error("unexpected service error", "error", err)
		internalError(w)
	}
}
