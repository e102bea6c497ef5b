// Package alphavantage provides a quote provider for the Alpha Vantage API
package alphavantage

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
	ProviderName   = "AlphaVantage"
	DefaultBaseURL = "https://www.alphavantage.co"
	WebAddress     = "https://www.alphavantage.co/"
)

// Client implements interfaces.QuoteProvider for Alpha Vantage.
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

// WithClock replaces time.Now for DownloadedAt stamps.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new Alpha Vantage client
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

// messages is the envelope Alpha Vantage uses for errors and limit notices,
// always with HTTP 200.
type messages struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (c *Client) checkMessages(symbol string, m messages) error {
	if m.ErrorMessage != "" {
		return common.NewNotFoundError(ProviderName, symbol, m.ErrorMessage)
	}
	for _, text := range []string{m.Information, m.Note} {
		if text == "" {
			continue
		}
		if fe := httpx.ClassifyMessage(ProviderName, symbol, text); fe != nil {
			return fe
		}
		return common.NewTransientError(ProviderName, symbol, text, nil)
	}
	return nil
}

func (c *Client) query(params url.Values) string {
	params.Set("apikey", c.apiKey)
	return fmt.Sprintf("%s/query?%s", c.baseURL, params.Encode())
}

type globalQuoteResponse struct {
	messages
	GlobalQuote map[string]string `json:"Global Quote"`
}

// FetchQuote retrieves the latest daily quote via GLOBAL_QUOTE.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !models.IsLegalSymbol(symbol) {
		return nil, common.NewIllegalSymbolError(ProviderName, symbol)
	}

	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)

	var resp globalQuoteResponse
	if err := c.http.GetJSON(ctx, symbol, c.query(params), &resp); err != nil {
		return nil, err
	}
	if err := c.checkMessages(symbol, resp.messages); err != nil {
		return nil, err
	}

	gq := resp.GlobalQuote
	if len(gq) == 0 || gq["05. price"] == "" {
		return nil, common.NewNotFoundError(ProviderName, symbol, "empty Global Quote")
	}

	date, err := time.Parse("2006-01-02", gq["07. latest trading day"])
	if err != nil {
		date = c.now()
	}

	q := &models.Quote{
		Symbol:       symbol,
		Open:         httpx.ParseFloat(gq["02. open"]),
		High:         httpx.ParseFloat(gq["03. high"]),
		Low:          httpx.ParseFloat(gq["04. low"]),
		Close:        httpx.ParseFloat(gq["05. price"]),
		Volume:       int64(httpx.ParseFloat(gq["06. volume"])),
		Date:         models.Day(date),
		DownloadedAt: c.now(),
	}
	c.logger.Debug().Str("symbol", symbol).Float64("close", q.Close).Msg("Alpha Vantage quote")
	return q, nil
}

type dailySeriesResponse struct {
	messages
	MetaData struct {
		Symbol string `json:"2. Symbol"`
	} `json:"Meta Data"`
	Series map[string]map[string]string `json:"Time Series (Daily)"`
}

// FetchHistory downloads TIME_SERIES_DAILY. A series that already has data
// only needs the compact (100 day) window.
func (c *Client) FetchHistory(ctx context.Context, h *models.QuoteHistory) (bool, error) {
	symbol := h.Symbol
	if !models.IsLegalSymbol(symbol) {
		return false, common.NewIllegalSymbolError(ProviderName, symbol)
	}

	outputSize := "full"
	if len(h.Quotes) > 0 {
		outputSize = "compact"
	}

	params := url.Values{}
	params.Set("function", "TIME_SERIES_DAILY")
	params.Set("symbol", symbol)
	params.Set("outputsize", outputSize)

	var resp dailySeriesResponse
	if err := c.http.GetJSON(ctx, symbol, c.query(params), &resp); err != nil {
		return false, err
	}
	if err := c.checkMessages(symbol, resp.messages); err != nil {
		return false, err
	}
	if len(resp.Series) == 0 {
		return false, common.NewNotFoundError(ProviderName, symbol, "empty daily series")
	}

	downloaded := c.now()
	quotes := make([]models.Quote, 0, len(resp.Series))
	for ds, bar := range resp.Series {
		date, err := time.Parse("2006-01-02", ds)
		if err != nil {
			continue
		}
		quotes = append(quotes, models.Quote{
			Symbol:       symbol,
			Open:         httpx.ParseFloat(bar["1. open"]),
			High:         httpx.ParseFloat(bar["2. high"]),
			Low:          httpx.ParseFloat(bar["3. low"]),
			Close:        httpx.ParseFloat(bar["4. close"]),
			Volume:       int64(httpx.ParseFloat(bar["5. volume"])),
			Date:         date,
			DownloadedAt: downloaded,
		})
	}

	changed := h.Merge(quotes...)
	c.logger.Debug().Str("symbol", symbol).Int("bars", len(quotes)).Bool("changed", changed).Msg("Alpha Vantage history")
	return changed, nil
}

var _ interfaces.QuoteProvider = (*Client)(nil)
