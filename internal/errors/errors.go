// Package errors provides error types and handling for authprobe.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for reporting decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Transport represents DNS, connection and other network failures.
	Transport
	// Timeout represents a request that exceeded its deadline.
	Timeout
	// Cancelled represents context cancellation.
	Cancelled
	// HTTPStatus represents a non-2xx response.
	HTTPStatus
	// Decode represents a response body that is not the expected JSON.
	Decode
	// Config represents an unusable caller-supplied setting (e.g. base URL).
	Config
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case Transport:
		return "transport"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	case HTTPStatus:
		return "http_status"
	case Decode:
		return "decode"
	case Config:
		return "config"
	default:
		return "unknown"
	}
}

// IsTransportLevel reports whether no HTTP response was received.
func (t ErrorType) IsTransportLevel() bool {
	switch t {
	case Transport, Timeout, Cancelled:
		return true
	default:
		return false
	}
}

// ProbeError represents a categorized probe error.
type ProbeError struct {
	Type       ErrorType
	URL        string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s (caused by: %v)",
			e.Type.String(), e.Operation, e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Type.String(), e.Operation, e.URL, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target.
func (e *ProbeError) Is(target error) bool {
	t, ok := target.(*ProbeError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewProbeError creates a new ProbeError.
func NewProbeError(errType ErrorType, url, operation, message string, cause error) *ProbeError {
	return &ProbeError{
		Type:      errType,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewTransportError creates a transport error.
func NewTransportError(url, operation string, cause error) *ProbeError {
	return NewProbeError(Transport, url, operation, "network failure", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *ProbeError {
	return NewProbeError(Timeout, url, operation, "request timed out", cause)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string) *ProbeError {
	return NewProbeError(Cancelled, url, operation, "operation cancelled", nil)
}

// NewHTTPStatusError creates an error for a non-2xx response.
func NewHTTPStatusError(url string, statusCode int, message string) *ProbeError {
	err := NewProbeError(HTTPStatus, url, "request", message, nil)
	err.StatusCode = statusCode
	return err
}

// NewDecodeError creates a decode error for a response body.
func NewDecodeError(url string, statusCode int, cause error) *ProbeError {
	err := NewProbeError(Decode, url, "decode", "response is not a JSON object", cause)
	err.StatusCode = statusCode
	return err
}

// NewConfigError creates a configuration error.
func NewConfigError(field, message string, cause error) *ProbeError {
	return NewProbeError(Config, field, "configure", message, cause)
}

// Categorize determines the error type from a transport-level error.
func Categorize(err error, url string) *ProbeError {
	if err == nil {
		return nil
	}

	var probeErr *ProbeError
	if errors.As(err, &probeErr) && probeErr != nil {
		return probeErr
	}

	if errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "context canceled") {
		return NewCancelledError(url, "request")
	}

	if isTimeout(err) {
		return NewTimeoutError(url, "request", err)
	}

	if isNetworkError(err) {
		return NewTransportError(url, "request", err)
	}

	// Anything raised by the HTTP client without a response is transport-level.
	return NewProbeError(Transport, url, "request", err.Error(), err)
}

// CategorizeHTTPStatus creates an error from a non-2xx HTTP status code.
// It returns nil for 2xx codes.
func CategorizeHTTPStatus(statusCode int, url string) *ProbeError {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == 401:
		return NewHTTPStatusError(url, statusCode, "unauthorized")
	case statusCode == 404:
		return NewHTTPStatusError(url, statusCode, "not found")
	case statusCode == 422:
		return NewHTTPStatusError(url, statusCode, "validation error")
	default:
		return NewHTTPStatusError(url, statusCode, fmt.Sprintf("server returned %d", statusCode))
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp")
}

// IsTransport reports whether err means no HTTP response was received.
func IsTransport(err error) bool {
	var probeErr *ProbeError
	if errors.As(err, &probeErr) && probeErr != nil {
		return probeErr.Type.IsTransportLevel()
	}
	return false
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var probeErr *ProbeError
	if errors.As(err, &probeErr) && probeErr != nil {
		return probeErr.Type
	}
	return Unknown
}
