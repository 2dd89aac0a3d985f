package apicall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/magpieflow/magpie/internal/logging"
	"github.com/magpieflow/magpie/internal/vars"
	"github.com/magpieflow/magpie/internal/workflow"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxRetries    = 3
	defaultDelaySeconds  = 1.0
	defaultBackoffFactor = 2.0
	defaultCacheTTL      = 300 * time.Second

	// maxResponseBytes caps response bodies so a misbehaving endpoint
	// cannot exhaust memory.
	maxResponseBytes = 10 * 1024 * 1024

	// maxErrorDetail bounds how much of an error body lands in messages.
	maxErrorDetail = 200
)

// defaultRetryOnStatus is the retryable status set when a call does not
// override retry_on_status.
var defaultRetryOnStatus = []int{429, 500, 502, 503, 504}

// Client executes api_call steps. A single client is shared across an
// execution so the response cache spans steps; it is safe for concurrent
// use.
type Client struct {
	http       *http.Client
	cache      *responseCache
	logger     *log.Logger
	timeout    time.Duration
	maxRetries int
	cacheTTL   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, primarily for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the default per-call timeout applied when a step config
// carries none.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets the default retry count applied when a step config
// carries none.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithCacheTTL sets the default cache TTL applied when a cache-enabled step
// config carries none.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.cacheTTL = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a REST client with the package defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{},
		cache:      newResponseCache(),
		logger:     logging.New("apicall"),
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		cacheTTL:   defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs one REST call described by cfg. The result always carries
// the full output shape {data, status_code, headers, status, error};
// Success mirrors output.status. Call never returns nil.
func (c *Client) Call(ctx context.Context, cfg *Config) *workflow.StepResult {
	if cfg == nil {
		return failure(workflow.NewError(workflow.KindValidation, "api_call config is nil"), 0, nil)
	}
	if err := cfg.Validate(); err != nil {
		return failure(err, 0, nil)
	}
	method := cfg.method()

	query := url.Values{}
	for k, v := range cfg.QueryParams {
		query.Set(k, vars.Stringify(v))
	}

	// Header precedence: caller > auth > defaults.
	headers := defaultHeaders(cfg.URL)
	principal := applyAuth(cfg.Auth, headers, query, c.logger)
	for k, v := range cfg.Headers {
		headers[http.CanonicalHeaderKey(k)] = vars.Stringify(v)
	}

	body, err := marshalBody(cfg.Body)
	if err != nil {
		return failure(workflow.NewError(workflow.KindValidation, "body not serializable: %v", err), 0, nil)
	}
	if body != nil && headers["Content-Type"] == "" {
		headers["Content-Type"] = "application/json"
	}

	fullURL := cfg.URL
	if enc := canonicalQuery(query); enc != "" {
		fullURL += "?" + enc
	}

	useCache := cfg.Cache != nil && cfg.Cache.Enabled
	if useCache && method != http.MethodGet {
		c.logger.Warn("cache requested for non-GET call, ignoring", "method", method)
		useCache = false
	}
	var key uint64
	if useCache {
		key = cacheKey(method, fullURL, body, principal)
		if res, ok := c.cache.get(key); ok {
			c.logger.Debug("cache hit", "method", method, "url", cfg.URL)
			return res
		}
	}

	c.logger.Debug("calling", "method", method, "url", cfg.URL, "params", len(query))
	outcome, callErr := c.doWithRetry(ctx, method, fullURL, headers, body, c.retrySettings(cfg), cfg.timeout(c.timeout))
	if callErr != nil {
		status, hdrs := 0, map[string]any(nil)
		if outcome != nil {
			status, hdrs = outcome.status, outcome.headers
		}
		return failure(callErr, status, hdrs)
	}

	data := ApplyTransform(decodeBody(outcome.raw), cfg.Response)
	result := &workflow.StepResult{
		Success: true,
		Output:  callOutput(data, outcome.status, outcome.headers, "success", ""),
	}
	if useCache {
		c.cache.set(key, result, cfg.cacheTTL(c.cacheTTL))
	}
	return result
}

// httpOutcome is one completed HTTP exchange, success or not.
type httpOutcome struct {
	status  int
	headers map[string]any
	raw     []byte
}

// retrySettings is a Config's retry block merged with the client defaults.
type retrySettings struct {
	maxRetries    int
	delaySeconds  float64
	backoffFactor float64
	retryOn       []int
}

func (c *Client) retrySettings(cfg *Config) retrySettings {
	rs := retrySettings{
		maxRetries:    c.maxRetries,
		delaySeconds:  defaultDelaySeconds,
		backoffFactor: defaultBackoffFactor,
		retryOn:       defaultRetryOnStatus,
	}
	r := cfg.Retry
	if r == nil {
		return rs
	}
	if r.MaxRetries != nil && *r.MaxRetries >= 0 {
		rs.maxRetries = *r.MaxRetries
	}
	if r.DelaySeconds != nil && *r.DelaySeconds >= 0 {
		rs.delaySeconds = *r.DelaySeconds
	}
	if r.BackoffFactor != nil && *r.BackoffFactor > 0 {
		rs.backoffFactor = *r.BackoffFactor
	}
	if len(r.RetryOnStatus) > 0 {
		rs.retryOn = r.RetryOnStatus
	}
	return rs
}

// wait returns the pause before retry attempt k (k >= 1): delay * backoff^(k-1).
func (rs retrySettings) wait(attempt int) time.Duration {
	d := rs.delaySeconds * math.Pow(rs.backoffFactor, float64(attempt-1))
	return time.Duration(d * float64(time.Second))
}

// doWithRetry runs the attempt loop: up to maxRetries+1 attempts, retrying
// on network errors, timeouts, and retryable statuses. A cancelled parent
// context aborts immediately. On HTTP failure the last outcome is returned
// alongside the error so callers can surface status_code and headers.
func (c *Client) doWithRetry(ctx context.Context, method, fullURL string, headers map[string]string, body []byte, rs retrySettings, timeout time.Duration) (*httpOutcome, error) {
	var lastErr error
	var lastOutcome *httpOutcome

	for attempt := 0; attempt <= rs.maxRetries; attempt++ {
		if attempt > 0 {
			wait := rs.wait(attempt)
			c.logger.Warn("retrying request", "attempt", attempt, "max", rs.maxRetries, "wait", wait)
			if !sleepCtx(ctx, wait) {
				return lastOutcome, classifyTransport(ctx.Err())
			}
		}

		outcome, err := c.attempt(ctx, method, fullURL, headers, body, timeout)
		if err != nil {
			werr := classifyTransport(err)
			if werr.Kind == workflow.KindCancelled {
				return nil, werr
			}
			lastErr, lastOutcome = werr, nil
			c.logger.Warn("request failed", "attempt", attempt+1, "error", werr.Message)
			continue
		}

		if outcome.status >= 200 && outcome.status < 300 {
			return outcome, nil
		}

		lastOutcome = outcome
		lastErr = workflow.NewError(workflow.KindHTTPError, "%s", httpErrorMessage(outcome))
		if !statusIn(outcome.status, rs.retryOn) || attempt == rs.maxRetries {
			return outcome, lastErr
		}
		c.logger.Warn("retryable status", "status", outcome.status, "attempt", attempt+1)
	}

	return lastOutcome, lastErr
}

// attempt performs a single HTTP exchange under its own deadline.
func (c *Client) attempt(ctx context.Context, method, fullURL string, headers map[string]string, body []byte, timeout time.Duration) (*httpOutcome, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(actx, method, fullURL, rd)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxResponseBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)
	}

	hdrs := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		hdrs[k] = resp.Header.Get(k)
	}
	return &httpOutcome{status: resp.StatusCode, headers: hdrs, raw: raw}, nil
}

// classifyTransport maps a transport-level error to a classified kind:
// cancellation, timeout, or plain network failure.
func classifyTransport(err error) *workflow.Error {
	switch {
	case errors.Is(err, context.Canceled):
		return workflow.NewError(workflow.KindCancelled, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return workflow.NewError(workflow.KindTimeout, "request timed out: %v", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return workflow.NewError(workflow.KindTimeout, "request timed out: %v", err)
	}
	return workflow.NewError(workflow.KindNetworkFailure, "request failed: %v", err)
}

// decodeBody parses a response body as JSON, falling back to the raw text.
// Empty bodies decode to nil.
func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err == nil {
		return v
	}
	return string(raw)
}

// httpErrorMessage renders "HTTP <code>: <detail>" with the body truncated
// to a readable length.
func httpErrorMessage(o *httpOutcome) string {
	msg := fmt.Sprintf("HTTP %d", o.status)
	detail := strings.TrimSpace(string(o.raw))
	if detail == "" {
		return msg
	}
	if r := []rune(detail); len(r) > maxErrorDetail {
		detail = string(r[:maxErrorDetail])
	}
	return msg + ": " + detail
}

// marshalBody serializes the request body. Nil, empty-map, and empty-string
// bodies all mean "no body", so a GET never sends a zero-length JSON object.
func marshalBody(body any) ([]byte, error) {
	switch tv := body.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(tv) == 0 {
			return nil, nil
		}
	case string:
		if tv == "" {
			return nil, nil
		}
	}
	return json.Marshal(body)
}

// canonicalQuery renders query in sorted-key order with %20 for spaces.
// Values.Encode escapes a literal "+" to %2B first, so every remaining "+"
// is an encoded space.
func canonicalQuery(q url.Values) string {
	return strings.ReplaceAll(q.Encode(), "+", "%20")
}

func statusIn(status int, set []int) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// callOutput builds the uniform output map every call returns.
func callOutput(data any, statusCode int, headers map[string]any, status, errMsg string) map[string]any {
	var e any
	if errMsg != "" {
		e = errMsg
	}
	return map[string]any{
		"data":        data,
		"status_code": statusCode,
		"headers":     headers,
		"status":      status,
		"error":       e,
	}
}

// failure builds an error-shaped result. statusCode is zero and headers nil
// when no HTTP response was received.
func failure(err error, statusCode int, headers map[string]any) *workflow.StepResult {
	kind, msg := workflow.KindInternal, err.Error()
	var werr *workflow.Error
	if errors.As(err, &werr) {
		kind, msg = werr.Kind, werr.Message
	}
	return &workflow.StepResult{
		Success:   false,
		Output:    callOutput(nil, statusCode, headers, "error", msg),
		Error:     msg,
		ErrorKind: kind,
	}
}

// sleepCtx sleeps for d unless the context ends first. It reports whether
// the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
