// Package httpx is the HTTP plumbing shared by every quote provider: paced
// requests, a tuned transport and mapping of HTTP failures onto the
// provider error taxonomy.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/interfaces"
)

const (
	DefaultTimeout   = 20 * time.Second
	DefaultRateLimit = 2 // requests per second, under the persisted throttle
	maxBodyBytes     = 32 << 20
)

// HTTPClient describes an HTTP client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns an http.Client with a pooled transport.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Client performs provider GETs. Every request first passes the call gate
// (the persisted throttle), then the in-process limiter.
type Client struct {
	provider   string
	httpClient HTTPClient
	gate       interfaces.CallGate
	limiter    *rate.Limiter
	logger     *common.Logger
	userAgent  string
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout replaces the HTTP client with a fresh one using timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient = NewHTTPClient(timeout)
	}
}

// WithGate sets the call gate consulted before every request.
func WithGate(gate interfaces.CallGate) Option {
	return func(c *Client) {
		c.gate = gate
	}
}

// WithRateLimit sets the in-process request rate.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for provider.
func New(provider string, opts ...Option) *Client {
	c := &Client{
		provider:   provider,
		httpClient: NewHTTPClient(DefaultTimeout),
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     common.NewSilentLogger(),
		userAgent:  common.UserAgent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the provider name used in errors.
func (c *Client) Provider() string {
	return c.provider
}

// Get performs a paced GET and returns the body of a 2xx response. Non-2xx
// statuses and transport failures come back as *common.FetchError;
// cancellation comes back as the context error.
func (c *Client) Get(ctx context.Context, symbol, rawURL string) ([]byte, error) {
	if c.gate != nil {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, withSymbol(err, symbol)
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, common.NewTransientError(c.provider, symbol, "rate limit wait", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, common.NewFatalError(c.provider, symbol, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	if c.gate != nil {
		c.gate.RecordCall()
	}

	c.logger.Debug().Str("provider", c.provider).Str("symbol", symbol).Str("host", req.URL.Host).Str("path", req.URL.Path).Msg("Provider request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, common.NewTransientError(c.provider, symbol, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, common.NewTransientError(c.provider, symbol, "failed to read response", err)
	}

	if err := ClassifyStatus(c.provider, symbol, resp.StatusCode, body); err != nil {
		c.logger.Debug().Str("provider", c.provider).Str("symbol", symbol).Int("status", resp.StatusCode).Msg("Provider request failed")
		return nil, err
	}
	return body, nil
}

// GetJSON performs Get and decodes the body into dest.
func (c *Client) GetJSON(ctx context.Context, symbol, rawURL string, dest interface{}) error {
	body, err := c.Get(ctx, symbol, rawURL)
	if err != nil {
		return err
	}
	return c.Decode(symbol, body, dest)
}

// Decode unmarshals body, mapping malformed JSON to a transient error.
func (c *Client) Decode(symbol string, body []byte, dest interface{}) error {
	if err := json.Unmarshal(body, dest); err != nil {
		return common.NewTransientError(c.provider, symbol, "failed to decode response", err)
	}
	return nil
}

func withSymbol(err error, symbol string) error {
	var fe *common.FetchError
	if errors.As(err, &fe) && fe.Symbol == "" {
		cp := *fe
		cp.Symbol = symbol
		return &cp
	}
	return err
}

// ClassifyStatus maps an HTTP status onto the error taxonomy. It returns nil
// for 2xx.
func ClassifyStatus(provider, symbol string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	var fe *common.FetchError
	switch {
	case status == http.StatusNotFound, status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		fe = common.NewNotFoundError(provider, symbol, msg)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		fe = common.NewFatalError(provider, symbol, msg)
	case status == http.StatusPaymentRequired:
		fe = common.NewQuotaError(provider, symbol, common.ScopeDay, msg)
	case status == http.StatusTooManyRequests:
		if sig := ClassifyMessage(provider, symbol, msg); sig != nil && sig.Kind == common.KindQuotaExceeded {
			fe = sig
		} else {
			fe = common.NewRateLimitError(provider, symbol, msg)
		}
	case status == http.StatusServiceUnavailable:
		fe = common.NewFatalError(provider, symbol, "service unavailable: "+msg)
	default:
		fe = common.NewTransientError(provider, symbol, msg, nil)
	}
	fe.StatusCode = status
	return fe
}

// ClassifyMessage inspects provider text returned with a 200 or 429 for
// limit and subscription signals. Returns nil if the text carries none.
// Limit text wins over subscription text: limit notices routinely link to
// the provider's premium plans.
func ClassifyMessage(provider, symbol, msg string) *common.FetchError {
	lower := strings.ToLower(msg)
	if lower == "" {
		return nil
	}
	switch {
	case containsAny(lower, "per minute", "frequency", "current minute", "sparingly", "per second"):
		return common.NewRateLimitError(provider, symbol, msg)
	case containsAny(lower, "per month", "monthly"):
		return common.NewQuotaError(provider, symbol, common.ScopeMonth, msg)
	case containsAny(lower, "per day", "daily", "for the day", "for today"):
		return common.NewQuotaError(provider, symbol, common.ScopeDay, msg)
	case containsAny(lower, "rate limit", "too many requests", "credits"):
		return common.NewRateLimitError(provider, symbol, msg)
	case containsAny(lower, "premium", "subscription", "upgrade your plan", "not entitled", "not_authorized"):
		return common.NewFatalError(provider, symbol, msg)
	}
	return nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
