// Package errors carries the error taxonomy shared by the delivery path and
// the retry helpers. The split that matters is retryable vs fatal: a transient
// push failure (network, 5xx) is retried with backoff, a rejection (4xx) is
// terminal and reported immediately.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRejected    = NewError("REJECTED", "push API rejected the request", http.StatusBadRequest)
	ErrUnavailable = NewError("UNAVAILABLE", "push API unavailable", http.StatusServiceUnavailable)
	ErrTimeout     = NewError("TIMEOUT", "operation timed out", http.StatusRequestTimeout)
	ErrParse       = NewError("PARSE_FAILURE", "malformed upstream payload", http.StatusBadRequest)
	ErrAbandoned   = NewError("DELIVERY_ABANDONED", "delivery abandoned after exhausting retries", http.StatusServiceUnavailable)
	ErrInternal    = NewError("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	// Rejections and parse failures never resolve on their own.
	return e.Code != ErrRejected.Code && e.Code != ErrParse.Code
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

// FromHTTPStatus classifies a push API response status. 2xx is success (nil),
// 4xx is terminal, everything else is retryable.
func FromHTTPStatus(status int, body string) *Error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return ErrRejected.WithCause(fmt.Errorf("status %d: %s", status, body))
	default:
		return ErrUnavailable.WithCause(fmt.Errorf("status %d: %s", status, body))
	}
}

func IsRejected(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == ErrRejected.Code
	}
	return false
}

func IsRetryable(err error) bool {
	var retryableErr RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}
	var fatalErr FatalError
	if errors.As(err, &fatalErr) {
		return !fatalErr.IsFatal()
	}
	// Unclassified errors default to retryable.
	return true
}
