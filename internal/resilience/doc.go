// Package resilience groups the per-resource guards every outbound fetch
// passes through. The subpackages are independent of each other:
//
//   - circuitbreaker: fail fast while a resource keeps failing
//   - ratelimit: adaptive token bucket that slows down on errors
//   - retry: exponential backoff with jitter for transient failures
//
// The monitor composes them for each attempt of a check:
//
//	res, err := retry.Do(ctx, retry.FetchConfig(), func(ctx context.Context) (*fetch.Result, error) {
//	    if err := limiter.Wait(ctx); err != nil {
//	        return nil, err
//	    }
//	    v, err := breaker.Execute(func() (interface{}, error) {
//	        return fetcher.Fetch(ctx, req)
//	    })
//	    ...
//	})
package resilience
