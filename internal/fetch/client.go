package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"agentsync/internal/domain"
)

const maxBodyBytes = 10 << 20

// Config holds client throttling and retry settings.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MinDelay    time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Client issues HTTP requests against one external platform. Requests are
// spaced by MinDelay and retried on 429 and 5xx.
type Client struct {
	httpClient  *http.Client
	userAgent   string
	headers     http.Header
	throttle    *rate.Limiter
	quota       *QuotaLimiter
	maxAttempts int
	backoffBase time.Duration
	maxBackoff  time.Duration
	sleep       Sleeper
	logger      *slog.Logger
}

type Option func(*Client)

// WithQuota spends one unit of q per request unless the request carries its own cost.
func WithQuota(q *QuotaLimiter) Option {
	return func(c *Client) { c.quota = q }
}

func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// New creates a client. Zero config values fall back to 3 attempts and a
// one second backoff base.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "agentsync/1.0"
	}

	limit := rate.Inf
	if cfg.MinDelay > 0 {
		limit = rate.Every(cfg.MinDelay)
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		userAgent:   cfg.UserAgent,
		headers:     make(http.Header),
		throttle:    rate.NewLimiter(limit, 1),
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		maxBackoff:  cfg.MaxBackoff,
		sleep:       sleepContext,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request describes one logical call; the client may send it several times.
type Request struct {
	Method  string
	URL     string
	Params  url.Values
	Body    []byte
	Cost    int
	Headers map[string]string
}

// Get fetches rawURL with params appended to its query string.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Params: params})
}

// GetJSON fetches rawURL and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	body, err := c.Do(ctx, Request{
		Method:  http.MethodGet,
		URL:     rawURL,
		Params:  params,
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// PostJSON sends in as a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, rawURL string, headers map[string]string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	h := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	for k, v := range headers {
		h[k] = v
	}

	body, err := c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Body: payload, Headers: h})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Do runs req with throttling and retries. It returns a *domain.NetworkError
// once attempts are exhausted or on a non-retryable status.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return nil, err
	}

	var (
		lastErr    error
		lastStatus int
	)

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.throttle.Wait(ctx); err != nil {
			return nil, err
		}
		if c.quota != nil {
			if err := c.quota.Spend(max(req.Cost, 1)); err != nil {
				return nil, err
			}
		}

		body, resp, err := c.send(ctx, req, target)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		lastStatus = 0
		if resp != nil {
			lastStatus = resp.StatusCode
		}

		wait, retryable := c.retryDelay(resp, attempt)
		if !retryable {
			return nil, &domain.NetworkError{URL: req.URL, Attempts: attempt, StatusCode: lastStatus, Err: err}
		}
		if attempt == c.maxAttempts {
			break
		}

		c.logger.Warn("request failed, retrying",
			"url", req.URL,
			"attempt", attempt,
			"status", lastStatus,
			"backoff", wait,
			"error", err,
		)

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, &domain.NetworkError{URL: req.URL, Attempts: c.maxAttempts, StatusCode: lastStatus, Err: lastErr}
}

func (c *Client) send(ctx context.Context, req Request, target string) ([]byte, *http.Response, error) {
	var reader io.Reader
	if req.Body != nil {
		reader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return body, resp, nil
}

// retryDelay decides whether a failed attempt is retried and how long to wait.
// A nil resp is a transport failure and is retried like a 5xx.
func (c *Client) retryDelay(resp *http.Response, attempt int) (time.Duration, bool) {
	switch {
	case resp == nil:
		return c.gentleBackoff(attempt), true
	case resp.StatusCode == http.StatusTooManyRequests:
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			return d, true
		}
		return c.exponentialBackoff(attempt), true
	case resp.StatusCode >= 500:
		return c.gentleBackoff(attempt), true
	default:
		return 0, false
	}
}

func (c *Client) exponentialBackoff(attempt int) time.Duration {
	backoff := c.backoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}

func (c *Client) gentleBackoff(attempt int) time.Duration {
	backoff := time.Duration(float64(c.backoffBase) * math.Pow(1.5, float64(attempt-1)))
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func buildURL(rawURL string, params url.Values) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
