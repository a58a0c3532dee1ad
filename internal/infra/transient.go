package infra

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// StatusCoder is implemented by errors that carry an HTTP-like status code.
type StatusCoder interface {
	StatusCode() int
}

// Retryabler is implemented by errors that know whether they are retryable.
type Retryabler interface {
	Retryable() bool
}

var transientPhrases = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"temporary failure",
	"temporarily unavailable",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"too many requests",
	"rate limit",
	"overloaded",
	"eof",
	"network is unreachable",
	"tls handshake",
}

// IsTransient reports whether err looks like a temporary dependency failure:
// 5xx or 429 statuses, timeouts, connection resets, DNS failures and common
// transient network phrases. Everything else is treated as permanent.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var r Retryabler
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		if code == 429 || code >= 500 {
			return true
		}
		if code >= 400 {
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// RetryTransient is a RetryPolicy.ShouldRetry predicate backed by IsTransient.
func RetryTransient(err error, _ int) bool {
	return IsTransient(err)
}
