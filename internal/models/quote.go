// Package models defines the data types shared across quotefeed.
package models

import (
	"sort"
	"time"
)

// Quote is one trading day's OHLCV record for a symbol.
// Close is the authoritative market price for Date.
type Quote struct {
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name,omitempty"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       int64     `json:"volume"`
	Date         time.Time `json:"date"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// Day normalises t to midnight UTC of its calendar date. All quote dates and
// index keys use this form.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TradingCalendar answers whether the market was open on a date.
type TradingCalendar interface {
	IsTradingDay(day time.Time) bool
}

// Completeness window and tolerance.
const (
	CompletenessMonths    = 3
	CompletenessTolerance = 0.01
)

// QuoteHistory is the ascending, date-unique series of quotes for one symbol.
type QuoteHistory struct {
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name,omitempty"`
	Complete bool    `json:"complete"`
	NotFound bool    `json:"not_found"`
	Quotes   []Quote `json:"quotes"`
}

// NewQuoteHistory returns an empty history for symbol.
func NewQuoteHistory(symbol string) *QuoteHistory {
	return &QuoteHistory{Symbol: symbol}
}

// Merge folds incoming quotes into the series. A quote whose date already
// exists overwrites that entry; otherwise it is inserted in date order.
// Per-quote names are hoisted to the history. Returns true if anything changed.
func (h *QuoteHistory) Merge(incoming ...Quote) bool {
	changed := false
	for _, q := range incoming {
		q.Date = Day(q.Date)
		if q.Symbol == "" {
			q.Symbol = h.Symbol
		}
		if q.Name != "" {
			if h.Name != q.Name {
				h.Name = q.Name
				changed = true
			}
			q.Name = ""
		}

		i := sort.Search(len(h.Quotes), func(i int) bool {
			return !h.Quotes[i].Date.Before(q.Date)
		})
		if i < len(h.Quotes) && h.Quotes[i].Date.Equal(q.Date) {
			if !sameValues(h.Quotes[i], q) {
				changed = true
			}
			h.Quotes[i] = q
			continue
		}

		h.Quotes = append(h.Quotes, Quote{})
		copy(h.Quotes[i+1:], h.Quotes[i:])
		h.Quotes[i] = q
		changed = true
	}
	return changed
}

func sameValues(a, b Quote) bool {
	return a.Open == b.Open && a.High == b.High && a.Low == b.Low &&
		a.Close == b.Close && a.Volume == b.Volume
}

// Dedup sorts the series, drops zero-date sentinel entries and removes any
// entry whose date repeats its predecessor, keeping the earlier one.
// Returns the number of entries removed.
func (h *QuoteHistory) Dedup() int {
	sort.SliceStable(h.Quotes, func(i, j int) bool {
		return h.Quotes[i].Date.Before(h.Quotes[j].Date)
	})

	before := len(h.Quotes)
	out := h.Quotes[:0]
	for _, q := range h.Quotes {
		if q.Date.IsZero() {
			continue
		}
		if n := len(out); n > 0 && Day(out[n-1].Date).Equal(Day(q.Date)) {
			continue
		}
		out = append(out, q)
	}
	h.Quotes = out
	return before - len(out)
}

// Find returns the quote for day, if present.
func (h *QuoteHistory) Find(day time.Time) (Quote, bool) {
	day = Day(day)
	i := sort.Search(len(h.Quotes), func(i int) bool {
		return !h.Quotes[i].Date.Before(day)
	})
	if i < len(h.Quotes) && h.Quotes[i].Date.Equal(day) {
		return h.Quotes[i], true
	}
	return Quote{}, false
}

// Latest returns the most recent quote, if any.
func (h *QuoteHistory) Latest() (Quote, bool) {
	if len(h.Quotes) == 0 {
		return Quote{}, false
	}
	return h.Quotes[len(h.Quotes)-1], true
}

// MissingDays walks back from the last trading day strictly before today
// over CompletenessMonths and counts trading days that have no quote.
func (h *QuoteHistory) MissingDays(cal TradingCalendar, today time.Time) (missing, examined int) {
	end := Day(today).AddDate(0, 0, -1)
	start := Day(today).AddDate(0, -CompletenessMonths, 0)

	have := make(map[time.Time]struct{}, len(h.Quotes))
	for _, q := range h.Quotes {
		have[Day(q.Date)] = struct{}{}
	}

	for d := end; !d.Before(start); d = d.AddDate(0, 0, -1) {
		if !cal.IsTradingDay(d) {
			continue
		}
		examined++
		if _, ok := have[d]; !ok {
			missing++
		}
	}
	return missing, examined
}

// IsComplete reports whether fewer than 1% of the examined trading days are
// missing. An empty series is never complete.
func (h *QuoteHistory) IsComplete(cal TradingCalendar, today time.Time) bool {
	if len(h.Quotes) == 0 {
		return false
	}
	missing, examined := h.MissingDays(cal, today)
	if examined == 0 {
		return true
	}
	return float64(missing) < CompletenessTolerance*float64(examined)
}
