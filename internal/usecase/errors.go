package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrorNotFound        ErrorCode = "NOT_FOUND"
	ErrorActionInFlight  ErrorCode = "ACTION_IN_FLIGHT"
	ErrorStaleSelection  ErrorCode = "STALE_SELECTION"
	ErrorRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// upstreamError classifies a failed backend call by its HTTP status.
func upstreamError(reason string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok {
		switch status {
		case 401, 403:
			return newError(ErrorUnauthenticated, reason, err)
		case 404:
			return newError(ErrorNotFound, reason, err)
		case 429:
			return newError(ErrorRateLimited, reason, err)
		}
	}
	return newError(ErrorUpstream, reason, err)
}
