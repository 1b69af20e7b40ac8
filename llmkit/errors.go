package llmkit

import "fmt"

// BaseError is the root error type for all llmkit errors.
type BaseError struct {
	Message string
	Cause   error
}

func (e *BaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BaseError) Unwrap() error { return e.Cause }

// BackendError represents an error returned by an LLM backend.
type BackendError struct {
	BaseError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *float64 // seconds, from Retry-After when present
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete backend error types.

type AuthenticationError struct{ BackendError }
type InvalidRequestError struct{ BackendError }
type NotFoundError struct{ BackendError }
type RateLimitError struct{ BackendError }
type ServerError struct{ BackendError }
type ContextLengthError struct{ BackendError }

// Non-backend errors.

// TimeoutError is a hard per-call timeout expiry. It is user-visible and
// never auto-retried.
type TimeoutError struct{ BaseError }

type NetworkError struct{ BaseError }
type AbortError struct{ BaseError }
type ConfigurationError struct{ BaseError }

// ErrorFromStatusCode maps an HTTP status code to the matching error type.
func ErrorFromStatusCode(statusCode int, message, provider string, retryAfter *float64) error {
	be := BackendError{
		BaseError:  BaseError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
	}
	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{BackendError: be}
	case 401, 403:
		return &AuthenticationError{BackendError: be}
	case 404:
		return &NotFoundError{BackendError: be}
	case 413:
		return &ContextLengthError{BackendError: be}
	case 429:
		be.Retryable = true
		return &RateLimitError{BackendError: be}
	case 500, 502, 503, 504:
		be.Retryable = true
		return &ServerError{BackendError: be}
	default:
		// Unknown statuses default to retryable.
		be.Retryable = true
		return &be
	}
}

// IsRetryable reports whether an error is safe to retry. Timeouts are
// deliberately not retryable: a hard timeout is surfaced to the user.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *BackendError:
		return e.Retryable
	case *AuthenticationError, *InvalidRequestError, *NotFoundError, *ContextLengthError:
		return false
	case *RateLimitError, *ServerError, *NetworkError:
		return true
	case *TimeoutError, *AbortError, *ConfigurationError:
		return false
	default:
		return false
	}
}

// IsRateLimited reports whether an error is a rate-limit rejection.
func IsRateLimited(err error) bool {
	_, ok := err.(*RateLimitError)
	return ok
}
