package fetch

import (
	"context"
	"time"
)

// Request describes one fetch of a monitored resource.
type Request struct {
	// Key names the remembered validators for conditional requests. Two
	// resources watching one locator need distinct keys. Empty means Locator.
	Key string
	// Locator is the http(s) URL to fetch.
	Locator string
	// Extractor names the reduction applied to the body before hashing.
	Extractor string
	// Conditional allows If-None-Match / If-Modified-Since from a previous
	// response. Callers set it only when they hold a baseline to compare with.
	Conditional bool
}

// ValidatorKey returns Key, or Locator when Key is empty.
func (r Request) ValidatorKey() string {
	if r.Key != "" {
		return r.Key
	}
	return r.Locator
}

// Result is a fetched and extracted body.
type Result struct {
	Locator  string
	FinalURL string
	// StatusCode is the HTTP status of the final response.
	StatusCode int
	// NotModified is true for a 304 answer to a conditional request; Content is empty.
	NotModified bool
	// Content is the extracted representation that gets hashed.
	Content      string
	ContentType  string
	ETag         string
	LastModified string
	BodySize     int
	FetchedAt    time.Time
	Duration     time.Duration
}

// ContentFetcher fetches a resource and reduces it to hashable content.
//
// Implementations MUST prevent SSRF, enforce size limits and timeouts, and
// validate redirect targets.
//
// Errors:
//   - ErrInvalidURL, ErrPrivateIP: the locator is unacceptable
//   - ErrTooManyRedirects, ErrBodyTooLarge: the response is unacceptable
//   - ErrTimeout: the request timed out
//   - *retry.HTTPError: non-2xx, non-304 status
//   - ErrParse: extraction failed
type ContentFetcher interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}
