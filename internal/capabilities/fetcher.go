package capabilities

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// Fetcher retrieves raw capability documents.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
	// MaxBodyBytes caps a document; capability documents for large
	// services run to several megabytes.
	MaxBodyBytes int64
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")

	// ErrTooLarge is returned when a document exceeds MaxBodyBytes.
	ErrTooLarge = errors.New("document too large")
)

// HTTPFetcher fetches capability documents over HTTP with retries,
// exponential backoff and one circuit breaker per service host.
type HTTPFetcher struct {
	httpCfg HTTPClientConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHTTPFetcher creates a fetcher with the default resilience settings.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
			MaxBodyBytes: 32 << 20,
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// WithBackoff overrides the retry settings.
func (f *HTTPFetcher) WithBackoff(cfg BackoffConfig) *HTTPFetcher {
	f.httpCfg.Backoff = cfg
	return f
}

// WithMaxBodyBytes overrides the document size cap.
func (f *HTTPFetcher) WithMaxBodyBytes(n int64) *HTTPFetcher {
	f.httpCfg.MaxBodyBytes = n
	return f
}

func (f *HTTPFetcher) breaker(host string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[host]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "capabilities:" + host,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		})
		f.breakers[host] = cb
	}
	return cb
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	buildRequest := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, rawURL, nil)
	}
	body, err := doRequestWithResilience(ctx, f.httpCfg, f.breaker(u.Host), buildRequest)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	return body, nil
}

// doRequestWithResilience executes the request with retries, exponential
// backoff and a circuit breaker, and returns the response body.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) ([]byte, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.Backoff.InitialInterval
	if cfg.Backoff.MaxInterval > 0 {
		expo.MaxInterval = cfg.Backoff.MaxInterval
	}
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, cfg.Backoff.MaxRetries), ctx)

	operation := func() ([]byte, error) {
		req, err := buildRequest()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		// Ensure the request obeys context cancellation.
		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			defer resp.Body.Close()

			// Handle rate limiting and server errors explicitly.
			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, errRateLimited
			}
			if resp.StatusCode >= 500 {
				return nil, errServerError
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, backoff.Permanent(fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode))
			}

			limit := cfg.MaxBodyBytes
			if limit <= 0 {
				limit = 32 << 20
			}
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, limit+1))
			if readErr != nil {
				return nil, readErr
			}
			if int64(len(body)) > limit {
				return nil, backoff.Permanent(fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit))
			}
			return body, nil
		})
		if err != nil {
			// If circuit is open, propagate immediately.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, backoff.Permanent(fmt.Errorf("%w: %v", errCircuitOpen, err))
			}
			return nil, err
		}
		body, ok := result.([]byte)
		if !ok {
			return nil, backoff.Permanent(fmt.Errorf("unexpected result type from circuit breaker"))
		}
		return body, nil
	}

	return backoff.RetryWithData(operation, policy)
}
