// Package twelvedata provides a quote provider for the Twelve Data API
package twelvedata

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
	ProviderName   = "TwelveData"
	DefaultBaseURL = "https://api.twelvedata.com"
	WebAddress     = "https://twelvedata.com/"

	maxOutputSize = 5000
)

// Client implements interfaces.QuoteProvider for Twelve Data.
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

// NewClient creates a new Twelve Data client
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

// status is the error envelope Twelve Data returns with HTTP 200.
type status struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s status) err(symbol string) error {
	if !strings.EqualFold(s.Status, "error") {
		return nil
	}
	switch s.Code {
	case 400, 404:
		return common.NewNotFoundError(ProviderName, symbol, s.Message)
	case 401, 403:
		return common.NewFatalError(ProviderName, symbol, s.Message)
	case 429:
		if fe := httpx.ClassifyMessage(ProviderName, symbol, s.Message); fe != nil {
			return fe
		}
		return common.NewRateLimitError(ProviderName, symbol, s.Message)
	}
	if fe := httpx.ClassifyMessage(ProviderName, symbol, s.Message); fe != nil {
		return fe
	}
	return common.NewTransientError(ProviderName, symbol, fmt.Sprintf("code %d: %s", s.Code, s.Message), nil)
}

func (c *Client) get(ctx context.Context, symbol, path string, params url.Values, dest interface{}) error {
	params.Set("symbol", symbol)
	params.Set("apikey", c.apiKey)
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	body, err := c.http.Get(ctx, symbol, reqURL)
	if err != nil {
		return err
	}

	var st status
	if err := json.Unmarshal(body, &st); err == nil {
		if err := st.err(symbol); err != nil {
			return err
		}
	}
	return c.http.Decode(symbol, body, dest)
}

type quoteResponse struct {
	Symbol   string      `json:"symbol"`
	Name     string      `json:"name"`
	Datetime string      `json:"datetime"`
	Open     httpx.Float `json:"open"`
	High     httpx.Float `json:"high"`
	Low      httpx.Float `json:"low"`
	Close    httpx.Float `json:"close"`
	Volume   httpx.Int   `json:"volume"`
}

// FetchQuote retrieves the latest quote.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !models.IsLegalSymbol(symbol) {
		return nil, common.NewIllegalSymbolError(ProviderName, symbol)
	}

	var resp quoteResponse
	if err := c.get(ctx, symbol, "/quote", url.Values{}, &resp); err != nil {
		return nil, err
	}
	if resp.Close == 0 {
		return nil, common.NewNotFoundError(ProviderName, symbol, "quote has no close")
	}

	date, err := parseDate(resp.Datetime)
	if err != nil {
		date = c.now()
	}

	return &models.Quote{
		Symbol:       symbol,
		Name:         resp.Name,
		Open:         float64(resp.Open),
		High:         float64(resp.High),
		Low:          float64(resp.Low),
		Close:        float64(resp.Close),
		Volume:       int64(resp.Volume),
		Date:         models.Day(date),
		DownloadedAt: c.now(),
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if len(s) >= 10 {
		s = s[:10]
	}
	return time.Parse("2006-01-02", s)
}

type timeSeriesResponse struct {
	Meta struct {
		Symbol string `json:"symbol"`
	} `json:"meta"`
	Values []struct {
		Datetime string      `json:"datetime"`
		Open     httpx.Float `json:"open"`
		High     httpx.Float `json:"high"`
		Low      httpx.Float `json:"low"`
		Close    httpx.Float `json:"close"`
		Volume   httpx.Int   `json:"volume"`
	} `json:"values"`
}

// FetchHistory downloads up to maxOutputSize daily bars, starting after the
// last stored quote when there is one.
func (c *Client) FetchHistory(ctx context.Context, h *models.QuoteHistory) (bool, error) {
	symbol := h.Symbol
	if !models.IsLegalSymbol(symbol) {
		return false, common.NewIllegalSymbolError(ProviderName, symbol)
	}

	params := url.Values{}
	params.Set("interval", "1day")
	params.Set("outputsize", fmt.Sprint(maxOutputSize))
	if last, ok := h.Latest(); ok {
		params.Set("start_date", last.Date.Format("2006-01-02"))
	}

	var resp timeSeriesResponse
	if err := c.get(ctx, symbol, "/time_series", params, &resp); err != nil {
		return false, err
	}
	if len(resp.Values) == 0 {
		if len(h.Quotes) == 0 {
			return false, common.NewNotFoundError(ProviderName, symbol, "empty time series")
		}
		return false, nil
	}

	downloaded := c.now()
	quotes := make([]models.Quote, 0, len(resp.Values))
	for _, v := range resp.Values {
		date, err := parseDate(v.Datetime)
		if err != nil {
			continue
		}
		quotes = append(quotes, models.Quote{
			Symbol:       symbol,
			Open:         float64(v.Open),
			High:         float64(v.High),
			Low:          float64(v.Low),
			Close:        float64(v.Close),
			Volume:       int64(v.Volume),
			Date:         date,
			DownloadedAt: downloaded,
		})
	}
	return h.Merge(quotes...), nil
}

var _ interfaces.QuoteProvider = (*Client)(nil)
