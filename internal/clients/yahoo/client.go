// Package yahoo provides a quote provider for the Yahoo Finance chart API.
// It needs no API key.
package yahoo

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
	ProviderName   = "YahooFinance"
	DefaultBaseURL = "https://query1.finance.yahoo.com"
	WebAddress     = "https://finance.yahoo.com/"
)

// Client implements interfaces.QuoteProvider for Yahoo Finance.
type Client struct {
	baseURL  string
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

// NewClient creates a new Yahoo Finance client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
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

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol             string  `json:"symbol"`
		LongName           string  `json:"longName"`
		ShortName          string  `json:"shortName"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
		RegularMarketTime  int64   `json:"regularMarketTime"`
		GMTOffset          int64   `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

func (r *chartResult) name() string {
	if r.Meta.LongName != "" {
		return r.Meta.LongName
	}
	return r.Meta.ShortName
}

// bars converts the parallel indicator arrays into quotes, skipping entries
// with no close.
func (r *chartResult) bars(symbol string, downloaded time.Time) []models.Quote {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	ind := r.Indicators.Quote[0]
	at := func(values []*float64, i int) float64 {
		if i < len(values) && values[i] != nil {
			return *values[i]
		}
		return 0
	}

	quotes := make([]models.Quote, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		closePrice := at(ind.Close, i)
		if closePrice == 0 {
			continue
		}
		// Shift into exchange local time before truncating to a day.
		local := time.Unix(ts+r.Meta.GMTOffset, 0).UTC()
		quotes = append(quotes, models.Quote{
			Symbol:       symbol,
			Name:         r.name(),
			Open:         at(ind.Open, i),
			High:         at(ind.High, i),
			Low:          at(ind.Low, i),
			Close:        closePrice,
			Volume:       int64(at(ind.Volume, i)),
			Date:         models.Day(local),
			DownloadedAt: downloaded,
		})
	}
	return quotes
}

func (c *Client) chart(ctx context.Context, symbol string, params url.Values) (*chartResult, error) {
	params.Set("interval", "1d")
	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	var resp chartResponse
	if err := c.http.GetJSON(ctx, symbol, reqURL, &resp); err != nil {
		return nil, err
	}
	if e := resp.Chart.Error; e != nil {
		if strings.EqualFold(e.Code, "Not Found") {
			return nil, common.NewNotFoundError(ProviderName, symbol, e.Description)
		}
		if fe := httpx.ClassifyMessage(ProviderName, symbol, e.Description); fe != nil {
			return nil, fe
		}
		return nil, common.NewTransientError(ProviderName, symbol, e.Code+": "+e.Description, nil)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, common.NewNotFoundError(ProviderName, symbol, "empty chart result")
	}
	return &resp.Chart.Result[0], nil
}

// FetchQuote retrieves the most recent daily bar, with the regular market
// price standing in for the close of a session still in progress.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !models.IsLegalSymbol(symbol) {
		return nil, common.NewIllegalSymbolError(ProviderName, symbol)
	}

	params := url.Values{}
	params.Set("range", "5d")
	result, err := c.chart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	now := c.now()
	bars := result.bars(symbol, now)
	var q models.Quote
	if len(bars) > 0 {
		q = bars[len(bars)-1]
	}
	if result.Meta.RegularMarketPrice > 0 && result.Meta.RegularMarketTime > 0 {
		day := models.Day(time.Unix(result.Meta.RegularMarketTime+result.Meta.GMTOffset, 0).UTC())
		if q.Date.IsZero() || !day.Before(q.Date) {
			if !day.Equal(q.Date) {
				q = models.Quote{Symbol: symbol, Name: result.name(), Date: day, DownloadedAt: now}
			}
			q.Close = result.Meta.RegularMarketPrice
		}
	}
	if q.Close == 0 {
		return nil, common.NewNotFoundError(ProviderName, symbol, "no price in chart")
	}
	return &q, nil
}

// FetchHistory requests ten years of daily bars for a new series, or the
// range since the last stored quote otherwise.
func (c *Client) FetchHistory(ctx context.Context, h *models.QuoteHistory) (bool, error) {
	symbol := h.Symbol
	if !models.IsLegalSymbol(symbol) {
		return false, common.NewIllegalSymbolError(ProviderName, symbol)
	}

	now := c.now()
	params := url.Values{}
	if last, ok := h.Latest(); ok {
		params.Set("period1", fmt.Sprint(last.Date.Unix()))
		params.Set("period2", fmt.Sprint(now.Unix()))
	} else {
		params.Set("range", "10y")
	}

	result, err := c.chart(ctx, symbol, params)
	if err != nil {
		return false, err
	}

	bars := result.bars(symbol, now)
	if len(bars) == 0 {
		if len(h.Quotes) == 0 {
			return false, common.NewNotFoundError(ProviderName, symbol, "no daily bars")
		}
		return false, nil
	}
	return h.Merge(bars...), nil
}

var _ interfaces.QuoteProvider = (*Client)(nil)
