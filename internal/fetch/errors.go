package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Kind is the closed set of failure categories produced by the fetch layer.
type Kind string

const (
	KindNetwork     Kind = "NETWORK"
	KindTimeout     Kind = "TIMEOUT"
	KindRateLimit   Kind = "RATE_LIMIT"
	KindNotFound    Kind = "NOT_FOUND"
	KindServerError Kind = "SERVER_ERROR"
	KindParseError  Kind = "PARSE_ERROR"
	KindUnknown     Kind = "UNKNOWN"
)

// Error is a classified fetch failure.
type Error struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	StatusCode int    `json:"status_code,omitempty"`
	Err        error  `json:"-"`
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s (HTTP %d)", e.Kind, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with the retry flag the taxonomy assigns to kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: kind != KindNotFound,
		Err:       cause,
	}
}

// FromStatus classifies a non-2xx HTTP status.
func FromStatus(statusCode int) *Error {
	e := &Error{StatusCode: statusCode, Retryable: true}
	switch {
	case statusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		e.Message = "rate limit exceeded, try again shortly"
	case statusCode == http.StatusNotFound:
		e.Kind = KindNotFound
		e.Message = "requested resource was not found"
		e.Retryable = false
	case statusCode >= 500:
		e.Kind = KindServerError
		e.Message = "pricing service is unavailable"
	default:
		e.Kind = KindUnknown
		e.Message = fmt.Sprintf("unexpected response status %d", statusCode)
	}
	return e
}

// Classify maps any error returned while fetching onto the taxonomy.
// A nil error yields nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	// Timeouts first: url.Error and net.OpError both report Timeout().
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(KindTimeout, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTimeout, "request timed out", err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return NewError(KindParseError, "response body could not be parsed", err)
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) {
		return NewError(KindNetwork, "network unavailable, check your connection", err)
	}

	return NewError(KindUnknown, err.Error(), err)
}

// KindOf returns the kind of a classified error, or "" when err is nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

// IsRetryable reports whether err is a classified retryable failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable
}
