// Package errclass classifies extraction failures into the retry levels
// the coordinator acts on. Classification is total and keyed on the
// error's kind, never its message text.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is the retry level assigned to a failure.
type Kind int

const (
	// Retryable covers transient conditions: network failures, timeouts,
	// DNS errors, 5xx responses, and rate limiting.
	Retryable Kind = iota
	// NonRetryable covers deterministic rejections: 4xx responses other
	// than 429, and structural extraction failures.
	NonRetryable
	// Fatal covers broken source configuration, such as an adapter
	// selector with no registered adapter.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Retryable:
		return "retryable"
	case NonRetryable:
		return "non-retryable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HTTPError reports an upstream response that was received but unusable.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// ExtractError reports that a response arrived but the expected structure
// was absent, so further attempts against the same content are pointless.
type ExtractError struct {
	Reason string
}

func (e *ExtractError) Error() string {
	return "extraction failed: " + e.Reason
}

// ConfigError reports an invalid source configuration. It must never be
// retried and is reported distinctly from network problems.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration: " + e.Reason
}

// Classify maps err to its retry level. Unrecognized errors default to
// Retryable, matching the coordinator's policy of giving unknown
// transient-looking failures their full attempt budget.
func Classify(err error) Kind {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return Fatal
	}
	var extErr *ExtractError
	if errors.As(err, &extErr) {
		return NonRetryable
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyStatus(httpErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Retryable
	}
	return Retryable
}

func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return Retryable
	case code >= 500:
		return Retryable
	case code >= 400:
		return NonRetryable
	default:
		return Retryable
	}
}
