package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"walletchat/internal/apperr"
)

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperr.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperr.CodePermissionDenied:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeAlreadyExists, apperr.CodeFailedPrecondition:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError renders err as a JSON error body. Typed application errors keep
// their message; anything else becomes an opaque 500 and is logged.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var app *apperr.AppError
	if errors.As(err, &app) {
		writeJSON(w, statusFor(app.Code), map[string]string{"error": app.Message})
		return
	}
	if log != nil {
		log.Error("internal error", zap.Error(err))
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}
