package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeAuth           ErrorType = "auth"
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeDecode         ErrorType = "decode"
	ErrorTypeWrite          ErrorType = "write"
	ErrorTypeNotifier       ErrorType = "notifier"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Error represents a typed failure raised by the upstream client, the
// partition writer or the configuration layer
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	// RetryAfter is a vendor-suggested wait, zero when absent
	RetryAfter time.Duration
	// ResetAt is a vendor-signaled reset time, zero when absent
	ResetAt time.Time
	// Unrecoverable marks write errors that cannot clear on their own (disk full, read-only fs)
	Unrecoverable bool
	Err           error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Type)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap creates a typed error around err
func Wrap(errorType ErrorType, message string, err error) *Error {
	return &Error{Type: errorType, Message: message, Err: err}
}

// TypeOf returns the ErrorType of the first *Error in err's chain
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given type anywhere in its chain
func Is(err error, errorType ErrorType) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Type == errorType
}

// IsUnrecoverable reports whether err is a storage failure that will not clear by retrying
func IsUnrecoverable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) && e.Unrecoverable {
		return true
	}
	return stderrors.Is(err, syscall.ENOSPC) || stderrors.Is(err, syscall.EROFS)
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 420, 429: // Enhance Your Calm, Too Many Requests
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

// FromStatus maps an upstream HTTP status code to a typed error
func FromStatus(statusCode int, message string) *Error {
	e := &Error{Code: statusCode, Message: message}
	switch {
	case statusCode == 420 || statusCode == 429:
		e.Type = ErrorTypeRateLimit
	case statusCode == 401 || statusCode == 403:
		e.Type = ErrorTypeAuth
	case statusCode >= 500:
		e.Type = ErrorTypeServerError
	case statusCode >= 400:
		e.Type = ErrorTypeInvalidRequest
	default:
		e.Type = ErrorTypeUnknown
	}
	return e
}

// Kind is the coarse classification the backoff controller acts on
type Kind int

const (
	// KindTransient covers server errors and dropped connections
	KindTransient Kind = iota
	// KindRateLimited means the upstream asked us to slow down
	KindRateLimited
	// KindFatal is never retried
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps a connection-level error onto a backoff Kind.
// Untyped network errors and upstream disconnects are transient; anything
// else unknown is fatal.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}

	var e *Error
	if stderrors.As(err, &e) {
		switch e.Type {
		case ErrorTypeRateLimit:
			return KindRateLimited
		case ErrorTypeNetwork, ErrorTypeServerError:
			return KindTransient
		default:
			return KindFatal
		}
	}

	if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return KindTransient
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return KindTransient
	}
	return KindFatal
}

// ResetHint returns the vendor reset time carried by err, resolved against now.
// The zero time means no hint.
func ResetHint(err error, now time.Time) time.Time {
	var e *Error
	if !stderrors.As(err, &e) {
		return time.Time{}
	}
	if !e.ResetAt.IsZero() {
		return e.ResetAt
	}
	if e.RetryAfter > 0 {
		return now.Add(e.RetryAfter)
	}
	return time.Time{}
}
