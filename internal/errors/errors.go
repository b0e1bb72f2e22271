// Package errors defines the closed set of failure kinds a drip request can end in.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/token-faucet/internal/types"
)

// Kind identifies a drip failure
type Kind string

const (
	// KindRateLimited means the address already received a drip in the last 24 hours
	KindRateLimited Kind = "rate_limited"
	// KindResourceExhausted means the faucet balance is below its safety floor
	KindResourceExhausted Kind = "resource_exhausted"
	// KindSequenceAcquisitionFailed means the signer nonce could not be read
	KindSequenceAcquisitionFailed Kind = "sequence_acquisition_failed"
	// KindSubmissionFailed means broadcast or confirmation failed
	KindSubmissionFailed Kind = "submission_failed"
	// KindStalled means the worker stopped making progress on the job
	KindStalled Kind = "stalled"
	// KindTimeout means the caller gave up waiting; the job itself keeps running
	KindTimeout Kind = "timeout"

	// KindInvalidInput is raised by request validation before the drip pipeline
	KindInvalidInput Kind = "invalid_input"
	// KindCaptchaRejected is raised when captcha approval is missing or false
	KindCaptchaRejected Kind = "captcha_rejected"
	// KindInternal covers infrastructure faults (ledger, queue backend)
	KindInternal Kind = "internal"
)

const genericMessage = "An unexpected error occurred. Please try again later."

// DripError is a classified failure with its HTTP mapping
type DripError struct {
	Kind       Kind
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *DripError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *DripError) Unwrap() error {
	return e.Cause
}

// Is matches another *DripError of the same kind
func (e *DripError) Is(target error) bool {
	t, ok := target.(*DripError)
	return ok && t.Kind == e.Kind
}

// IsInternalFault reports whether the failure stems from infrastructure rather than the caller
func (e *DripError) IsInternalFault() bool {
	switch e.Kind {
	case KindSequenceAcquisitionFailed, KindSubmissionFailed, KindStalled, KindInternal:
		return true
	default:
		return false
	}
}

// PublicMessage is the message safe to show callers
func (e *DripError) PublicMessage() string {
	if e.IsInternalFault() {
		return genericMessage
	}
	return e.Message
}

// ToServiceError converts to the API error payload
func (e *DripError) ToServiceError() *types.ServiceError {
	details := e.Details
	if e.IsInternalFault() {
		details = nil
	}
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.PublicMessage(),
		Details: details,
	}
}

// Sentinels for errors.Is checks against a kind
var (
	ErrRateLimited               = &DripError{Kind: KindRateLimited}
	ErrResourceExhausted         = &DripError{Kind: KindResourceExhausted}
	ErrSequenceAcquisitionFailed = &DripError{Kind: KindSequenceAcquisitionFailed}
	ErrSubmissionFailed          = &DripError{Kind: KindSubmissionFailed}
	ErrStalled                   = &DripError{Kind: KindStalled}
	ErrTimeout                   = &DripError{Kind: KindTimeout}
	ErrCaptchaRejected           = &DripError{Kind: KindCaptchaRejected}
	ErrInternal                  = &DripError{Kind: KindInternal}
)

// NewRateLimitedError creates a rate limit error; waitText is the human readable remaining wait
func NewRateLimitedError(retryAfter time.Duration, waitText string) *DripError {
	return &DripError{
		Kind:       KindRateLimited,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("You can only request tokens once every 24 hours. Please wait %s before trying again.", waitText),
		RetryAfter: retryAfter,
		Details: map[string]interface{}{
			"retryAfter": int64(retryAfter / time.Second),
		},
	}
}

// NewResourceExhaustedError is returned when the faucet balance is below the floor
func NewResourceExhaustedError(balance, floor string) *DripError {
	return &DripError{
		Kind:       KindResourceExhausted,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "RESOURCE_EXHAUSTED",
		Message:    "The faucet balance is too low right now. Please try again later.",
		Details: map[string]interface{}{
			"balance": balance,
			"floor":   floor,
		},
	}
}

// NewSequenceAcquisitionError wraps a failed nonce lookup
func NewSequenceAcquisitionError(cause error) *DripError {
	return &DripError{
		Kind:       KindSequenceAcquisitionFailed,
		StatusCode: http.StatusInternalServerError,
		Code:       "SEQUENCE_ACQUISITION_FAILED",
		Message:    "failed to acquire signer nonce",
		Cause:      cause,
	}
}

// NewSubmissionError wraps a failure while building, broadcasting or confirming a transfer
func NewSubmissionError(stage string, cause error) *DripError {
	return &DripError{
		Kind:       KindSubmissionFailed,
		StatusCode: http.StatusInternalServerError,
		Code:       "SUBMISSION_FAILED",
		Message:    fmt.Sprintf("transfer submission failed during %s", stage),
		Cause:      cause,
		Details: map[string]interface{}{
			"stage": stage,
		},
	}
}

// NewStalledError is returned when a job reports no progress within the bound
func NewStalledError(jobID string, bound time.Duration) *DripError {
	return &DripError{
		Kind:       KindStalled,
		StatusCode: http.StatusInternalServerError,
		Code:       "JOB_STALLED",
		Message:    fmt.Sprintf("job %s made no progress for %s", jobID, bound),
		Details: map[string]interface{}{
			"jobId": jobID,
		},
	}
}

// NewTimeoutError is returned to a caller whose wait exceeded its deadline
func NewTimeoutError(jobID string) *DripError {
	return &DripError{
		Kind:       KindTimeout,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "TIMEOUT",
		Message:    "Your request is still being processed. Check your wallet shortly before retrying.",
		Details: map[string]interface{}{
			"jobId": jobID,
		},
	}
}

// NewInvalidInputError creates a validation error
func NewInvalidInputError(message string, details map[string]interface{}) *DripError {
	return &DripError{
		Kind:       KindInvalidInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_INPUT",
		Message:    message,
		Details:    details,
	}
}

// NewCaptchaRejectedError creates a captcha rejection
func NewCaptchaRejectedError(message string) *DripError {
	return &DripError{
		Kind:       KindCaptchaRejected,
		StatusCode: http.StatusForbidden,
		Code:       "CAPTCHA_REJECTED",
		Message:    message,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *DripError {
	return &DripError{
		Kind:       KindInternal,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Classify returns err as a *DripError, wrapping unknown errors as internal
func Classify(err error) *DripError {
	if err == nil {
		return nil
	}

	var dripErr *DripError
	if stderrors.As(err, &dripErr) {
		return dripErr
	}

	return NewInternalError("unexpected error", err)
}

// KindOf returns the kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	if d := Classify(err); d != nil {
		return d.Kind
	}
	return ""
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if dripErr := Classify(err); dripErr != nil && dripErr.StatusCode != 0 {
		return dripErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	status := GetHTTPStatusCode(err)
	return status >= 400 && status < 500
}
