// Package resiliency provides the outbound HTTP client used for calls between
// BotNode services: bounded timeouts, retries with backoff, and a circuit
// breaker per upstream.
package resiliency

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InternalAPIKeyHeader authenticates calls between BotNode services.
const InternalAPIKeyHeader = "X-Internal-API-Key"

const maxResponseBytes = 4 << 20

var (
	// ErrCircuitOpen is returned without contacting the upstream while its
	// breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrUnreachable wraps transport failures and exhausted retries.
	ErrUnreachable = errors.New("upstream unreachable")
)

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Object returns the body as a JSON object, or false when it is not one.
func (r *Response) Object() (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal(r.Body, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// Client wraps http.Client with retries on transport errors and 5xx
// responses, exponential backoff with jitter, and one circuit breaker per
// upstream host.
type Client struct {
	name       string
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	apiKey     string
	logger     *slog.Logger

	// threshold <= 0 disables the breakers.
	threshold int
	reset     time.Duration
	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key in the X-Internal-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithBackoff sets the base retry delay.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithBreaker sets the failure threshold and reset timeout of the per-host
// breakers.
func WithBreaker(threshold int, reset time.Duration) Option {
	return func(c *Client) { c.threshold, c.reset = threshold, reset }
}

// WithoutBreaker disables circuit breaking, for liveness checks whose
// failures must not refuse other traffic.
func WithoutBreaker() Option {
	return func(c *Client) { c.threshold = 0 }
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a client for the upstream called name. Every attempt is bounded
// by timeout; maxRetries is the number of attempts after the first.
func New(name string, timeout time.Duration, maxRetries int, opts ...Option) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	c := &Client{
		name:       name,
		client:     &http.Client{Timeout: timeout},
		timeout:    timeout,
		maxRetries: maxRetries,
		backoff:    100 * time.Millisecond,
		logger:     slog.Default().With("component", "resiliency", "upstream", name),
		threshold:  5,
		reset:      10 * time.Second,
		breakers:   make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the upstream name.
func (c *Client) Name() string { return c.name }

// Liveness returns a client for health checks against the same upstreams:
// same transport and timeout, one attempt and no breaker.
func (c *Client) Liveness() *Client {
	return New(c.name, c.timeout, 0,
		WithHTTPClient(c.client),
		WithAPIKey(c.apiKey),
		WithoutBreaker(),
	)
}

// Breaker returns the breaker guarding the host of rawURL, or nil when
// breaking is disabled.
func (c *Client) Breaker(rawURL string) *CircuitBreaker {
	if c.threshold <= 0 {
		return nil
	}
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Scheme + "://" + u.Host
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[host]
	if !ok {
		cb = NewCircuitBreaker(c.name+" "+host, c.threshold, c.reset)
		c.breakers[host] = cb
	}
	return cb
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, nil)
}

// PostJSON issues a POST request with a JSON body.
func (c *Client) PostJSON(ctx context.Context, url string, body any, header http.Header) (*Response, error) {
	return c.Do(ctx, http.MethodPost, url, body, header)
}

// Do sends the request, retrying transport failures and 5xx responses. Any
// response below 500 is returned as is; the caller interprets 4xx. When every
// attempt fails the error wraps ErrUnreachable.
func (c *Client) Do(ctx context.Context, method, url string, body any, header http.Header) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", c.name, err)
		}
	}

	breaker := c.Breaker(url)
	if breaker != nil && !breaker.Allow() {
		return nil, fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	}

	var (
		resp    *Response
		lastErr error
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.delay(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		resp, lastErr = c.attempt(ctx, method, url, payload, header)
		if lastErr == nil && resp.StatusCode < 500 {
			if breaker != nil {
				breaker.Success()
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			break
		}
		if lastErr != nil {
			c.logger.DebugContext(ctx, "upstream attempt failed", "attempt", attempt+1, "error", lastErr)
		} else {
			c.logger.DebugContext(ctx, "upstream attempt failed", "attempt", attempt+1, "status", resp.StatusCode)
		}
	}

	// Cancellation by the caller is not an upstream failure.
	if err := ctx.Err(); err != nil {
		if breaker != nil {
			breaker.Abandon()
		}
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	if breaker != nil {
		breaker.Failure()
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%s %s: %w: %v", method, url, ErrUnreachable, lastErr)
	}
	// A 5xx after the last retry is still an answer.
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, method, url string, payload []byte, header http.Header) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(InternalAPIKeyHeader, c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// delay is base * 2^attempt plus up to 50ms of jitter.
func (c *Client) delay(attempt int) time.Duration {
	d := c.backoff << attempt
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		d += time.Duration(n.Int64()) * time.Millisecond
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State of a circuit breaker.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// CircuitBreaker opens after threshold consecutive failures and lets a
// single probe through once resetTimeout has elapsed.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        State
	now          func() time.Time
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		// one probe at a time
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
}

// Abandon ends a request that neither succeeded nor failed. A half-open
// breaker returns to open so the next request after the reset timeout probes
// again; the failure count is unchanged.
func (cb *CircuitBreaker) Abandon() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.state = StateOpen
	}
}

// FailureCount reports consecutive failures since the last success.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = StateOpen
	}
}

// State reports the breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
