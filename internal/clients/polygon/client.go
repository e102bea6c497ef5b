// Package polygon provides a quote provider for the Polygon.io aggregates API
package polygon

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bobmcallan/quotefeed/internal/clients/httpx"
	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/interfaces"
	"github.com/bobmcallan/quotefeed/internal/models"
)

const (
	ProviderName   = "PolygonIO"
	DefaultBaseURL = "https://api.polygon.io"
	WebAddress     = "https://polygon.io/"

	// HistoryYears is how far back the free tier serves daily aggregates.
	HistoryYears = 2
)

// Client implements interfaces.QuoteProvider for Polygon.io.
type Client struct {
	baseURL  string
	apiKey   string
	http     *httpx.Client
	httpOpts []httpx.Option
	logger   *common.Logger
	now      func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
		c.httpOpts = append(c.httpOpts, httpx.WithLogger(logger))
	}
}

// WithHTTPOptions passes options through to the shared HTTP client.
func WithHTTPOptions(opts ...httpx.Option) ClientOption {
	return func(c *Client) {
		c.httpOpts = append(c.httpOpts, opts...)
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new Polygon.io client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		logger:  common.NewSilentLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = httpx.New(ProviderName, c.httpOpts...)
	return c
}

func (c *Client) Name() string          { return ProviderName }
func (c *Client) WebAddress() string    { return WebAddress }
func (c *Client) SupportsHistory() bool { return true }

type aggBar struct {
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
	Timestamp int64   `json:"t"` // ms since epoch, start of the bar
}

type aggsResponse struct {
	Ticker       string   `json:"ticker"`
	Status       string   `json:"status"`
	ResultsCount int      `json:"resultsCount"`
	Results      []aggBar `json:"results"`
	Error        string   `json:"error"`
	Message      string   `json:"message"`
}

func (c *Client) get(ctx context.Context, symbol, path string, params url.Values) (*aggsResponse, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("adjusted", "true")
	params.Set("apiKey", c.apiKey)

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	var resp aggsResponse
	if err := c.http.GetJSON(ctx, symbol, reqURL, &resp); err != nil {
		return nil, err
	}

	switch strings.ToUpper(resp.Status) {
	case "NOT_AUTHORIZED":
		return nil, common.NewFatalError(ProviderName, symbol, firstNonEmpty(resp.Message, resp.Error, "not authorized"))
	case "ERROR":
		text := firstNonEmpty(resp.Error, resp.Message, "provider error")
		if fe := httpx.ClassifyMessage(ProviderName, symbol, text); fe != nil {
			return nil, fe
		}
		return nil, common.NewTransientError(ProviderName, symbol, text, nil)
	}
	return &resp, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *Client) toQuote(symbol string, bar aggBar, downloaded time.Time) models.Quote {
	return models.Quote{
		Symbol:       symbol,
		Open:         bar.Open,
		High:         bar.High,
		Low:          bar.Low,
		Close:        bar.Close,
		Volume:       int64(bar.Volume),
		Date:         models.Day(time.UnixMilli(bar.Timestamp).UTC()),
		DownloadedAt: downloaded,
	}
}

// FetchQuote retrieves the previous session's daily bar.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !models.IsLegalSymbol(symbol) {
		return nil, common.NewIllegalSymbolError(ProviderName, symbol)
	}

	resp, err := c.get(ctx, symbol, "/v2/aggs/ticker/"+url.PathEscape(symbol)+"/prev", nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, common.NewNotFoundError(ProviderName, symbol, "no previous-day aggregate")
	}

	q := c.toQuote(symbol, resp.Results[len(resp.Results)-1], c.now())
	return &q, nil
}

// FetchHistory requests daily aggregates from the day after the last stored
// quote (or HistoryYears back) through today.
func (c *Client) FetchHistory(ctx context.Context, h *models.QuoteHistory) (bool, error) {
	symbol := h.Symbol
	if !models.IsLegalSymbol(symbol) {
		return false, common.NewIllegalSymbolError(ProviderName, symbol)
	}

	now := c.now()
	from := models.Day(now).AddDate(-HistoryYears, 0, 0)
	if last, ok := h.Latest(); ok && last.Date.After(from) {
		from = last.Date.AddDate(0, 0, 1)
	}
	to := models.Day(now)
	if from.After(to) {
		return false, nil
	}

	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s",
		url.PathEscape(symbol), from.Format("2006-01-02"), to.Format("2006-01-02"))
	params := url.Values{}
	params.Set("sort", "asc")
	params.Set("limit", "50000")

	resp, err := c.get(ctx, symbol, path, params)
	if err != nil {
		return false, err
	}
	if len(resp.Results) == 0 {
		if len(h.Quotes) == 0 {
			return false, common.NewNotFoundError(ProviderName, symbol, "no daily aggregates")
		}
		return false, nil
	}

	quotes := make([]models.Quote, 0, len(resp.Results))
	for _, bar := range resp.Results {
		quotes = append(quotes, c.toQuote(symbol, bar, now))
	}
	return h.Merge(quotes...), nil
}

var _ interfaces.QuoteProvider = (*Client)(nil)
