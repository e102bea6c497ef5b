// Package eodhd provides a quote provider for the EODHD API
package eodhd

import (
	"context"
	"encoding/json"
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
	ProviderName   = "EODHD"
	DefaultBaseURL = "https://eodhd.com/api"
	WebAddress     = "https://eodhd.com/"

	// HistoryYears bounds the first download of a symbol.
	HistoryYears = 10
)

// Client implements interfaces.QuoteProvider for EODHD.
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

// NewClient creates a new EODHD client
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

// get performs a paced GET with the API token attached
func (c *Client) get(ctx context.Context, symbol, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	body, err := c.http.Get(ctx, symbol, reqURL)
	if err != nil {
		return nil, err
	}

	// Limit notices arrive as a bare JSON string or an {"error": ...} object.
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if json.Unmarshal(body, &text) == nil {
			return nil, classifyText(symbol, text)
		}
	}
	if strings.HasPrefix(trimmed, "{") {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, classifyText(symbol, e.Error)
		}
	}
	return body, nil
}

func classifyText(symbol, text string) error {
	if fe := httpx.ClassifyMessage(ProviderName, symbol, text); fe != nil {
		return fe
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "not found") || strings.Contains(lower, "ticker") {
		return common.NewNotFoundError(ProviderName, symbol, text)
	}
	return common.NewTransientError(ProviderName, symbol, text, nil)
}

// realTimeResponse is the /real-time payload. Missing values arrive as "NA".
type realTimeResponse struct {
	Code      string      `json:"code"`
	Timestamp httpx.Int   `json:"timestamp"`
	GMTOffset int         `json:"gmtoffset"`
	Open      httpx.Float `json:"open"`
	High      httpx.Float `json:"high"`
	Low       httpx.Float `json:"low"`
	Close     httpx.Float `json:"close"`
	Volume    httpx.Int   `json:"volume"`
}

// FetchQuote retrieves the live (delayed) quote for symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !models.IsLegalSymbol(symbol) {
		return nil, common.NewIllegalSymbolError(ProviderName, symbol)
	}

	body, err := c.get(ctx, symbol, "/real-time/"+url.PathEscape(symbol), nil)
	if err != nil {
		return nil, err
	}

	var resp realTimeResponse
	if err := c.http.Decode(symbol, body, &resp); err != nil {
		return nil, err
	}
	if resp.Close == 0 || resp.Timestamp == 0 {
		return nil, common.NewNotFoundError(ProviderName, symbol, "no real-time quote")
	}

	ts := time.Unix(int64(resp.Timestamp), 0).UTC().Add(time.Duration(resp.GMTOffset) * time.Second)
	return &models.Quote{
		Symbol:       symbol,
		Open:         float64(resp.Open),
		High:         float64(resp.High),
		Low:          float64(resp.Low),
		Close:        float64(resp.Close),
		Volume:       int64(resp.Volume),
		Date:         models.Day(ts),
		DownloadedAt: c.now(),
	}, nil
}

// eodBarResponse represents the API response for EOD data
type eodBarResponse struct {
	Date          string      `json:"date"`
	Open          httpx.Float `json:"open"`
	High          httpx.Float `json:"high"`
	Low           httpx.Float `json:"low"`
	Close         httpx.Float `json:"close"`
	AdjustedClose httpx.Float `json:"adjusted_close"`
	Volume        httpx.Int   `json:"volume"`
}

// FetchHistory downloads end-of-day bars in ascending order from the day
// after the last stored quote.
func (c *Client) FetchHistory(ctx context.Context, h *models.QuoteHistory) (bool, error) {
	symbol := h.Symbol
	if !models.IsLegalSymbol(symbol) {
		return false, common.NewIllegalSymbolError(ProviderName, symbol)
	}

	now := c.now()
	from := models.Day(now).AddDate(-HistoryYears, 0, 0)
	if last, ok := h.Latest(); ok {
		from = last.Date.AddDate(0, 0, 1)
	}
	if from.After(models.Day(now)) {
		return false, nil
	}

	params := url.Values{}
	params.Set("period", "d")
	params.Set("order", "a")
	params.Set("from", from.Format("2006-01-02"))

	body, err := c.get(ctx, symbol, "/eod/"+url.PathEscape(symbol), params)
	if err != nil {
		return false, err
	}

	var bars []eodBarResponse
	if err := c.http.Decode(symbol, body, &bars); err != nil {
		return false, err
	}
	if len(bars) == 0 {
		if len(h.Quotes) == 0 {
			return false, common.NewNotFoundError(ProviderName, symbol, "no end-of-day data")
		}
		return false, nil
	}

	quotes := make([]models.Quote, 0, len(bars))
	for _, bar := range bars {
		date, err := time.Parse("2006-01-02", bar.Date)
		if err != nil {
			continue
		}
		quotes = append(quotes, models.Quote{
			Symbol:       symbol,
			Open:         float64(bar.Open),
			High:         float64(bar.High),
			Low:          float64(bar.Low),
			Close:        float64(bar.Close),
			Volume:       int64(bar.Volume),
			Date:         date,
			DownloadedAt: now,
		})
	}

	changed := h.Merge(quotes...)
	c.logger.Debug().Str("symbol", symbol).Int("bars", len(quotes)).Bool("changed", changed).Msg("EODHD history")
	return changed, nil
}

var _ interfaces.QuoteProvider = (*Client)(nil)
