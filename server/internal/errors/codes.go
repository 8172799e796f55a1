package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/hrygo/jcp/plugin/vector"
)

// ErrorCode represents a specific error type for search operations.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNotFound indicates the dataset, collection or profile does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeServiceUnavailable indicates a backing store is not available.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeContextCanceled indicates the operation was canceled.
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// statusClientClosedRequest is the non-standard status for canceled requests.
const statusClientClosedRequest = 499

// HTTPStatus maps the code to a response status.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeContextCanceled:
		return statusClientClosedRequest
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

// SearchError represents a structured error for search operations.
type SearchError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *SearchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SearchError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *SearchError) WithContext(key string, value any) *SearchError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Convenience constructors for common error types.

func InvalidArgument(msg string) *SearchError {
	return &SearchError{Code: ErrCodeInvalidArgument, Message: msg}
}

func NotFound(msg string) *SearchError {
	return &SearchError{Code: ErrCodeNotFound, Message: msg}
}

func RateLimitExceeded(msg string) *SearchError {
	return &SearchError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

func ServiceUnavailable(msg string, cause error) *SearchError {
	return &SearchError{Code: ErrCodeServiceUnavailable, Message: msg, Cause: cause}
}

func ContextCanceled(cause error) *SearchError {
	return &SearchError{Code: ErrCodeContextCanceled, Message: "operation canceled", Cause: cause}
}

func Timeout(cause error) *SearchError {
	return &SearchError{Code: ErrCodeTimeout, Message: "operation timed out", Cause: cause}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *SearchError {
	return &SearchError{Code: code, Message: msg, Cause: cause}
}

// Classify converts a store or vector error into a SearchError. Errors that
// already carry a code are returned unchanged.
func Classify(err error, msg string) *SearchError {
	if err == nil {
		return nil
	}
	var se *SearchError
	if stderrors.As(err, &se) {
		return se
	}
	var missing *vector.MissingIDsError
	switch {
	case stderrors.Is(err, context.Canceled):
		return ContextCanceled(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return Timeout(err)
	case stderrors.Is(err, vector.ErrInvalidQuery), stderrors.Is(err, vector.ErrUnknownDataset), stderrors.Is(err, vector.ErrUnsupported):
		return Wrap(err, ErrCodeInvalidArgument, msg)
	case stderrors.Is(err, vector.ErrCollectionNotFound), stderrors.As(err, &missing):
		return Wrap(err, ErrCodeNotFound, msg)
	default:
		return ServiceUnavailable(msg, err)
	}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	var se *SearchError
	if stderrors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a SearchError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var se *SearchError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return defaultCode
}
