package fetcher

import (
	"fmt"
	"time"
)

// Config holds the configuration for resource fetching.
//
// Security settings:
//   - DenyPrivateIPs: Prevents SSRF attacks by blocking private IP addresses
//   - MaxBodySize: Prevents memory exhaustion from oversized responses
//   - MaxRedirects: Prevents infinite redirect loops
//   - Timeout: Prevents resource starvation from slow servers
type Config struct {
	// Timeout is the maximum duration for a single HTTP request.
	// Default: 30s
	Timeout time.Duration

	// MaxBodySize is the maximum HTTP response body size in bytes.
	// This is enforced during response reading, not based on Content-Length header.
	// Default: 10485760 (10MB)
	MaxBodySize int64

	// MaxRedirects is the maximum number of HTTP redirects to follow.
	// Each redirect target is validated for security (SSRF check).
	// Default: 5
	MaxRedirects int

	// DenyPrivateIPs controls whether to block access to private IP addresses.
	// Should always be true in production.
	// Default: true
	DenyPrivateIPs bool

	// UserAgent identifies the poller to remote servers.
	UserAgent string

	// ConditionalRequests enables ETag / Last-Modified revalidation.
	// Default: true
	ConditionalRequests bool

	// ValidatorCacheSize bounds the number of remembered ETag/Last-Modified pairs.
	// Default: 1000
	ValidatorCacheSize int
}

// DefaultConfig returns the default configuration for resource fetching.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		MaxBodySize:         10 * 1024 * 1024, // 10MB
		MaxRedirects:        5,
		DenyPrivateIPs:      true,
		UserAgent:           "changewatch/1.0 (+https://github.com/changewatch)",
		ConditionalRequests: true,
		ValidatorCacheSize:  1000,
	}
}

// Validate checks if the configuration values are valid and safe.
//
// Validation rules:
//   - Timeout: > 0 (must have timeout)
//   - MaxBodySize: 1KB-100MB (prevent memory issues)
//   - MaxRedirects: 0-10 (reasonable redirect limit)
//   - ValidatorCacheSize: > 0 when ConditionalRequests is set
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}

	minBodySize := int64(1024)              // 1KB
	maxBodySize := int64(100 * 1024 * 1024) // 100MB
	if c.MaxBodySize < minBodySize || c.MaxBodySize > maxBodySize {
		return fmt.Errorf("max body size must be between %d and %d bytes, got %d", minBodySize, maxBodySize, c.MaxBodySize)
	}

	if c.MaxRedirects < 0 || c.MaxRedirects > 10 {
		return fmt.Errorf("max redirects must be between 0 and 10, got %d", c.MaxRedirects)
	}

	if c.ConditionalRequests && c.ValidatorCacheSize <= 0 {
		return fmt.Errorf("validator cache size must be positive, got %d", c.ValidatorCacheSize)
	}

	return nil
}
