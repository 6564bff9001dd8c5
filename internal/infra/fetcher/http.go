package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"changewatch/internal/infra/cache"
	"changewatch/internal/resilience/retry"
	"changewatch/internal/usecase/fetch"
)

type validators struct {
	etag         string
	lastModified string
}

// HTTPFetcher implements fetch.ContentFetcher over net/http.
//
// Features:
//   - SSRF prevention via URL validation, including every redirect target
//   - Size limiting to prevent memory exhaustion
//   - Per-request timeout
//   - Conditional requests from remembered ETag / Last-Modified values
//
// Resilience (rate limiting, circuit breaking, retry) is applied by the caller.
// HTTPFetcher is safe for concurrent use.
type HTTPFetcher struct {
	client     *http.Client
	config     Config
	validators *cache.BoundedCache[string, validators]
	logger     *slog.Logger
}

var _ fetch.ContentFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher. A nil logger uses slog.Default().
func NewHTTPFetcher(config Config, logger *slog.Logger) (*HTTPFetcher, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("fetcher config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := &HTTPFetcher{config: config, logger: logger}

	if config.ConditionalRequests {
		vc, err := cache.New[string, validators](cache.Config{MaxSize: config.ValidatorCacheSize})
		if err != nil {
			return nil, fmt.Errorf("validator cache: %w", err)
		}
		f.validators = vc
	}

	f.client = &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12, // Enforce TLS 1.2+
			},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= f.config.MaxRedirects {
				return fmt.Errorf("%w: %d redirects", fetch.ErrTooManyRedirects, len(via))
			}
			if err := validateURL(req.Context(), req.URL.String(), f.config.DenyPrivateIPs); err != nil {
				return fmt.Errorf("redirect target validation failed: %w", err)
			}
			return nil
		},
	}

	return f, nil
}

// Fetch retrieves req.Locator and applies req.Extractor to the body.
func (f *HTTPFetcher) Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error) {
	extractor, err := NewExtractor(req.Extractor)
	if err != nil {
		return nil, err
	}
	if err := validateURL(ctx, req.Locator, f.config.DenyPrivateIPs); err != nil {
		return nil, err
	}

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, req.Locator, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", fetch.ErrInvalidURL, err)
	}
	httpReq.Header.Set("User-Agent", f.config.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.8,*/*;q=0.7")

	key := req.ValidatorKey()
	if req.Conditional && f.validators != nil {
		if v, ok := f.validators.Get(key); ok {
			if v.etag != "" {
				httpReq.Header.Set("If-None-Match", v.etag)
			}
			if v.lastModified != "" {
				httpReq.Header.Set("If-Modified-Since", v.lastModified)
			}
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: request exceeded %v", fetch.ErrTimeout, f.config.Timeout)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			if urlErr.Timeout() {
				return nil, fmt.Errorf("%w: %v", fetch.ErrTimeout, urlErr.Err)
			}
			if errors.Is(urlErr.Err, fetch.ErrTooManyRedirects) ||
				errors.Is(urlErr.Err, fetch.ErrPrivateIP) ||
				errors.Is(urlErr.Err, fetch.ErrInvalidURL) {
				return nil, urlErr.Err
			}
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	result := &fetch.Result{
		Locator:      req.Locator,
		FinalURL:     resp.Request.URL.String(),
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		FetchedAt:    start,
	}

	if resp.StatusCode == http.StatusNotModified {
		result.NotModified = true
		result.Duration = time.Since(start)
		f.logger.Debug("resource not modified",
			slog.String("locator", req.Locator))
		return result, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	limitedReader := io.LimitReader(resp.Body, f.config.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: reading body exceeded %v", fetch.ErrTimeout, f.config.Timeout)
		}
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > f.config.MaxBodySize {
		return nil, fmt.Errorf("%w: response size exceeds limit %d bytes", fetch.ErrBodyTooLarge, f.config.MaxBodySize)
	}
	result.BodySize = len(body)

	content, err := extractor.Extract(body, resp.Request.URL)
	if err != nil {
		return nil, err
	}
	result.Content = content
	result.Duration = time.Since(start)

	if f.validators != nil {
		if result.ETag != "" || result.LastModified != "" {
			f.validators.Set(key, validators{etag: result.ETag, lastModified: result.LastModified})
		} else {
			f.validators.Delete(key)
		}
	}

	return result, nil
}

// Forget drops the validators remembered under key (see fetch.Request.ValidatorKey)
// so the next fetch is unconditional.
func (f *HTTPFetcher) Forget(key string) {
	if f.validators != nil {
		f.validators.Delete(key)
	}
}
