package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// bodyPrefixLimit bounds how much of an error body is kept for diagnostics.
const bodyPrefixLimit = 300

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Status        int
	URL           string
	BodyPrefix    string
	RetryAfter    time.Duration
	HasRetryAfter bool
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.Status, e.URL)
}

// NetworkKind classifies transport failures.
type NetworkKind string

const (
	NetworkDNS     NetworkKind = "dns"
	NetworkConnect NetworkKind = "connect"
	NetworkReset   NetworkKind = "reset"
	NetworkOther   NetworkKind = "other"
)

// NetworkError is a transport failure before a response was received.
type NetworkError struct {
	Kind NetworkKind
	URL  string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s) for %s: %v", e.Kind, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError means the per-call timeout expired.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %v", e.URL, e.Timeout)
}

// DecodeError is a 2xx response whose body is not JSON.
type DecodeError struct {
	URL        string
	BodyPrefix string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("expected JSON from %s, got: %s", e.URL, e.BodyPrefix)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusConflict:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var blockedStatus = map[int]bool{
	http.StatusForbidden:                  true,
	http.StatusProxyAuthRequired:          true,
	http.StatusUnavailableForLegalReasons: true,
}

// IsRetryable reports whether err warrants another attempt on the same route.
// Only retryable HTTP statuses and transport/timeout failures qualify; local
// errors such as a malformed URL or a missing alternate route do not.
func IsRetryable(err error) bool {
	if err == nil || isCallerCancel(err) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return retryableStatus[httpErr.Status]
	}
	var netErr *NetworkError
	var toErr *TimeoutError
	return errors.As(err, &netErr) || errors.As(err, &toErr)
}

// IsFallbackWorthy reports whether err looks like the direct route is blocked:
// 403/407/451 or a transport/timeout failure. Exhausted 429/5xx retries are not.
func IsFallbackWorthy(err error) bool {
	if err == nil || isCallerCancel(err) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return blockedStatus[httpErr.Status]
	}
	var netErr *NetworkError
	var toErr *TimeoutError
	return errors.As(err, &netErr) || errors.As(err, &toErr)
}

// isCallerCancel matches the raw context errors Client returns when the
// caller's own context ends; per-call timeouts surface as *TimeoutError.
func isCallerCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func classifyNetwork(err error) NetworkKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NetworkDNS
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return NetworkReset
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return NetworkConnect
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return NetworkConnect
	}
	return NetworkOther
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
