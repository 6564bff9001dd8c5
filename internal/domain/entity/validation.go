package entity

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// maxURLLength defines the maximum allowed length for URLs to prevent DoS attacks.
const maxURLLength = 2048

// ValidateLocator checks that a locator is a well-formed http(s) URL with a host.
// Network reachability and private address checks happen at fetch time.
func ValidateLocator(rawURL string) error {
	if rawURL == "" {
		return &ValidationError{Field: "locator", Message: "locator is required"}
	}

	// DoS protection: enforce maximum URL length
	if len(rawURL) > maxURLLength {
		return &ValidationError{
			Field:   "locator",
			Message: fmt.Sprintf("locator must not exceed %d characters", maxURLLength),
		}
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{Field: "locator", Message: fmt.Sprintf("parse URL: %v", err)}
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return &ValidationError{Field: "locator", Message: "locator must use http or https scheme"}
	}

	if parsedURL.Hostname() == "" {
		return &ValidationError{Field: "locator", Message: "locator must have a valid host"}
	}

	return nil
}

// trackingParams are dropped by CanonicalLocator. Keys ending in '_' match as prefixes.
var trackingParams = []string{
	"utm_",
	"fbclid",
	"gclid",
	"msclkid",
	"_ga",
	"mc_cid",
	"mc_eid",
	"ref_src",
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	for _, p := range trackingParams {
		if strings.HasSuffix(p, "_") && strings.HasPrefix(k, p) {
			return true
		}
		if k == p {
			return true
		}
	}
	return false
}

// CanonicalLocator normalizes a locator so that equivalent addresses compare
// equal: scheme and host are lowercased, default ports, the fragment and
// tracking parameters are removed, the query is sorted, and a trailing slash
// on a non-root path is trimmed.
func CanonicalLocator(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", rawURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		vals := q[key]
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(v))
		}
	}
	u.RawQuery = strings.Join(parts, "&")

	return u.String(), nil
}
