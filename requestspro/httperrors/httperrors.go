// Package httperrors defines the error taxonomy shared by every layer of the
// library. All errors support errors.Is against the package sentinels and
// errors.As against the concrete types, so callers can branch on failure class
// without string matching.
package httperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is. The concrete types below unwrap to these.
var (
	ErrConfiguration    = errors.New("invalid configuration")
	ErrProxySource      = errors.New("proxy source unusable")
	ErrProxyFormat      = errors.New("malformed proxy entry")
	ErrTransport        = errors.New("transport failure")
	ErrTooManyRedirects = errors.New("redirect limit exceeded")
	ErrTimeout          = errors.New("deadline exceeded")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ConfigurationError reports a single fatal configuration problem, such as an
// empty header pool. Never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// FieldError names one offending config field and why it was rejected.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InvalidConfigError is returned by the session factory and lists every
// offending field, not just the first one found.
type InvalidConfigError struct {
	Fields []FieldError
}

func (e *InvalidConfigError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("%s: [%s]", ErrConfiguration, strings.Join(parts, "; "))
}

func (e *InvalidConfigError) Unwrap() error { return ErrConfiguration }

// Has reports whether the given field name is among the offenders.
func (e *InvalidConfigError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// ProxySourceError means the proxy list as a whole is unusable: the file is
// missing, empty, or yielded no parseable entries.
type ProxySourceError struct {
	Source string
	Reason string
}

func (e *ProxySourceError) Error() string {
	return fmt.Sprintf("%s: %q: %s", ErrProxySource, e.Source, e.Reason)
}

func (e *ProxySourceError) Unwrap() error { return ErrProxySource }

// ProxyFormatError reports one malformed proxy entry. Surfaced only in strict
// mode; lenient parsing skips and logs instead.
type ProxyFormatError struct {
	Line   int
	Entry  string
	Reason string
}

func (e *ProxyFormatError) Error() string {
	return fmt.Sprintf("%s: line %d %q: %s", ErrProxyFormat, e.Line, e.Entry, e.Reason)
}

func (e *ProxyFormatError) Unwrap() error { return ErrProxyFormat }

// TransportError wraps a network-level failure that survived the retry policy.
// Cause is the error from the final attempt.
type TransportError struct {
	Attempts int
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", ErrTransport, e.Attempts, e.Cause)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Cause} }

// TooManyRedirectsError means the redirect chain exceeded the configured hop
// limit. Location is the target that would have been followed next.
type TooManyRedirectsError struct {
	Hops     int
	Location string
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("%s: %d hops, next %q", ErrTooManyRedirects, e.Hops, e.Location)
}

func (e *TooManyRedirectsError) Unwrap() error { return ErrTooManyRedirects }

// TimeoutError means the caller's deadline expired. It aborts the current
// attempt and all pending retries.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %v", ErrTimeout, e.Cause)
}

func (e *TimeoutError) Unwrap() []error { return []error{ErrTimeout, e.Cause} }

// RetriesExhaustedError is returned alongside the last received response when
// a retryable status code kept coming back until attempts ran out. The status
// itself is data, not an error; callers inspect the response.
type RetriesExhaustedError struct {
	Attempts   int
	LastStatus int
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempt(s), last status %d", ErrRetriesExhausted, e.Attempts, e.LastStatus)
}

func (e *RetriesExhaustedError) Unwrap() error { return ErrRetriesExhausted }
