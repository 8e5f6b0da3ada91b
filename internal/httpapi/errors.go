package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"sdturbo/internal/cache"
	"sdturbo/internal/config"
	"sdturbo/internal/pipeline"
	"sdturbo/internal/session"
	"sdturbo/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case pipeline.IsBusy(err):
		return http.StatusTooManyRequests
	case pipeline.IsNotReady(err):
		return http.StatusServiceUnavailable
	case session.IsCapabilityError(err):
		return http.StatusPreconditionFailed
	case pipeline.IsInvalidRequest(err), config.IsConfigError(err):
		return http.StatusBadRequest
	case cache.IsFetchError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
