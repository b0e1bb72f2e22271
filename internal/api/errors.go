package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/token-faucet/internal/errors"
	"github.com/token-faucet/internal/logging"
	"github.com/token-faucet/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logging.WithError(err).Warn("Failed to write error response")
	}
}

// respondDripError maps a classified drip failure to its status and public payload.
func respondDripError(w http.ResponseWriter, r *http.Request, err error) {
	dripErr := apperrors.Classify(err)
	if dripErr.IsInternalFault() {
		logging.FromContext(r.Context()).WithField("kind", string(dripErr.Kind)).WithError(err).Error("Drip request failed")
	}
	if dripErr.Kind == apperrors.KindRateLimited {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(dripErr.RetryAfter/time.Second), 10))
	}

	serviceErr := dripErr.ToServiceError()
	respondError(w, apperrors.GetHTTPStatusCode(dripErr), serviceErr.Code, serviceErr.Message, serviceErr.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logging.WithError(err).Warn("Failed to write response")
		}
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 16<<10))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)
