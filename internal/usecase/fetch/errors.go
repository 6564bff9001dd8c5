// Package fetch defines the content-fetching port used by the change monitor:
// the request/result types, the fetcher interface, and the error taxonomy
// fetch implementations report.
package fetch

import (
	"context"
	"errors"

	"changewatch/internal/resilience/retry"
)

// Sentinel errors for content fetching operations.
// These errors allow callers to distinguish between different failure modes.
var (
	// ErrInvalidURL indicates the URL format is invalid or uses an unsupported scheme.
	// Only http:// and https:// schemes are supported.
	ErrInvalidURL = errors.New("invalid URL or unsupported scheme")

	// ErrPrivateIP indicates the URL resolves to a private IP address.
	// This error prevents Server-Side Request Forgery (SSRF) attacks.
	ErrPrivateIP = errors.New("private IP access denied (SSRF prevention)")

	// ErrTooManyRedirects indicates the redirect chain exceeded the configured maximum.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrBodyTooLarge indicates the response body exceeded the size limit.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrTimeout indicates the request exceeded the configured timeout.
	// It is the only fetch-level sentinel that is worth retrying.
	ErrTimeout = errors.New("request timeout")

	// ErrParse indicates the body was fetched but the configured extractor
	// could not reduce it to content. Retrying will not help.
	ErrParse = errors.New("content extraction failed")
)

// IsRetryable extends retry.IsRetryable with fetch timeouts.
// Parse, SSRF, size and redirect failures are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrParse),
		errors.Is(err, ErrPrivateIP),
		errors.Is(err, ErrInvalidURL),
		errors.Is(err, ErrBodyTooLarge),
		errors.Is(err, ErrTooManyRedirects):
		return false
	case errors.Is(err, ErrTimeout):
		return true
	}
	return retry.IsRetryable(err)
}

// ErrorKind buckets an error for metrics and events.
func ErrorKind(err error) string {
	var httpErr *retry.HTTPError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrPrivateIP), errors.Is(err, ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, ErrBodyTooLarge):
		return "body_too_large"
	case errors.Is(err, ErrTooManyRedirects):
		return "redirects"
	case errors.As(err, &httpErr):
		return "http_status"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "network"
}
