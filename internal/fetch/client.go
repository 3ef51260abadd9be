// Package fetch issues timed-out, retried HTTP requests against the pricing
// API and classifies every failure into a closed set of error kinds.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second

	// APIKeyHeader carries the optional API key.
	APIKeyHeader = "x-cg-demo-api-key"
)

// Options holds options for creating a new Client. MaxRetries of zero
// disables retries; use DefaultOptions for the standard policy.
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialDelay   time.Duration
	APIKey         string
	RequestsPerSec float64
	Proxy          string
}

// DefaultOptions returns the standard timeout and retry policy.
func DefaultOptions() Options {
	return Options{
		Timeout:      DefaultTimeout,
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
	}
}

// RequestOptions customizes a single request.
type RequestOptions struct {
	Method string
	Header http.Header
}

// Client wraps an HTTP client with timeouts, retries and optional rate limiting.
type Client struct {
	HTTPClient   *http.Client
	Limiter      *rate.Limiter
	Timeout      time.Duration
	MaxRetries   int
	InitialDelay time.Duration
	APIKey       string
	logger       *zap.Logger
}

// NewClient creates a Client, applying defaults for zero options.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != "" {
		if u, err := url.Parse(opts.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}

	c := &Client{
		HTTPClient:   &http.Client{Transport: transport},
		Timeout:      opts.Timeout,
		MaxRetries:   opts.MaxRetries,
		InitialDelay: opts.InitialDelay,
		APIKey:       opts.APIKey,
		logger:       logger.With(zap.String("component", "fetch")),
	}
	if opts.RequestsPerSec > 0 {
		burst := int(opts.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), burst)
	}
	return c
}

// cancelBody releases the request timeout when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// FetchWithTimeout performs a single request bounded by the client timeout.
// A 2xx response is returned to the caller, who must close its body; the
// timeout keeps covering the body until then. Any other outcome is returned
// as a classified *Error.
func (c *Client) FetchWithTimeout(ctx context.Context, rawURL string, opts RequestOptions) (*http.Response, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, Classify(err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.Timeout)

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, nil)
	if err != nil {
		cancel()
		return nil, NewError(KindUnknown, fmt.Sprintf("build request: %v", err), err)
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if c.APIKey != "" {
		req.Header.Set(APIKeyHeader, c.APIKey)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		cancel()
		classified := Classify(err)
		c.logger.Debug("request failed",
			zap.String("url", rawURL),
			zap.String("kind", string(classified.Kind)),
			zap.Error(err),
		)
		return nil, classified
	}

	c.logger.Debug("request complete",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		cancel()
		return nil, FromStatus(resp.StatusCode)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// FetchWithRetry performs the request, retrying 429, 5xx and retryable
// transport failures with exponential backoff. Other 4xx statuses fail
// immediately. After MaxRetries retries the last classified error is returned.
func (c *Client) FetchWithRetry(ctx context.Context, rawURL string, opts RequestOptions) (*http.Response, error) {
	var resp *http.Response
	err := c.retry(ctx, rawURL, func() error {
		r, err := c.FetchWithTimeout(ctx, rawURL, opts)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchJSON fetches rawURL and decodes the body into dst. Reading and
// syntax validation happen inside the retried operation, so a truncated body
// is retried like any other transient failure; dst is only written once a
// complete document has been received.
func (c *Client) FetchJSON(ctx context.Context, rawURL string, dst any) error {
	var raw json.RawMessage
	err := c.retry(ctx, rawURL, func() error {
		resp, err := c.FetchWithTimeout(ctx, rawURL, RequestOptions{})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Classify(err)
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return NewError(KindParseError, "response body could not be parsed", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewError(KindParseError, "response body has an unexpected shape", err)
	}
	return nil
}

func (c *Client) retry(ctx context.Context, rawURL string, op func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		classified := Classify(err)
		if !shouldRetry(classified) {
			return backoff.Permanent(classified)
		}
		return classified
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn("request failed, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.MaxRetries+1),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify)
	if err != nil {
		return Classify(err)
	}
	return nil
}

// newBackOff yields InitialDelay * 2^attempt without jitter, capped at MaxRetries retries.
func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.InitialDelay << 10,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()
	if c.MaxRetries == 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.MaxRetries)), ctx)
}

// shouldRetry applies the retry policy. HTTP statuses retry only on 429
// and 5xx; transport failures follow their Retryable flag.
func shouldRetry(err *Error) bool {
	if err.StatusCode > 0 {
		return err.StatusCode == http.StatusTooManyRequests || err.StatusCode >= 500
	}
	return err.Retryable
}
