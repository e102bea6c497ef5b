// Package quoteindex answers point-in-time price lookups for held securities
// from a lazily built per-security date index.
package quoteindex

import (
	"context"
	"sync"
	"time"

	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/interfaces"
	"github.com/bobmcallan/quotefeed/internal/models"
)

// MaxBackfillDays is how far GetPrice steps back from a date with no quote.
const MaxBackfillDays = 6

type entry struct {
	byDate map[time.Time]float64 // closes from stored history
	ledger map[time.Time]float64 // memoised transaction prices, exact day only
}

// Index implements interfaces.PriceIndex over a portfolio and history store.
type Index struct {
	portfolio interfaces.Portfolio
	histories interfaces.HistoryStore
	logger    *common.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	depth   int
	stale   map[string]struct{}

	unsubscribe func()
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *common.Logger) Option {
	return func(x *Index) { x.logger = l }
}

// WithClock overrides time.Now for deciding what "today" is.
func WithClock(now func() time.Time) Option {
	return func(x *Index) { x.now = now }
}

// New creates an index and subscribes it to portfolio changes. A nil
// histories store limits lookups to live and ledger prices.
func New(portfolio interfaces.Portfolio, histories interfaces.HistoryStore, opts ...Option) *Index {
	x := &Index{
		portfolio: portfolio,
		histories: histories,
		logger:    common.NewSilentLogger(),
		now:       time.Now,
		entries:   make(map[string]*entry),
		stale:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.unsubscribe = portfolio.Subscribe(func(ev models.ChangeEvent) {
		x.Invalidate(ev.Symbol)
	})
	return x
}

// GetPrice returns the price of symbol on date, or 0 when nothing is known.
func (x *Index) GetPrice(date time.Time, symbol string) float64 {
	symbol = models.NormalizeSymbol(symbol)
	day := models.Day(date)

	if day.Equal(models.Day(x.now())) {
		if sec, ok := x.portfolio.Security(symbol); ok {
			return sec.Price
		}
		return 0
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	e := x.entryLocked(symbol)
	for i := 0; i <= MaxBackfillDays; i++ {
		if price, ok := e.byDate[day.AddDate(0, 0, -i)]; ok {
			return price
		}
	}

	if price, ok := e.ledger[day]; ok {
		return price
	}
	price := x.ledgerPrice(symbol, day)
	e.ledger[day] = price
	return price
}

func (x *Index) entryLocked(symbol string) *entry {
	if e, ok := x.entries[symbol]; ok {
		return e
	}

	e := &entry{
		byDate: make(map[time.Time]float64),
		ledger: make(map[time.Time]float64),
	}
	if x.histories != nil {
		h, err := x.histories.Load(context.Background(), symbol)
		if err != nil {
			x.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to load history for price index")
		} else {
			for _, q := range h.Quotes {
				if q.Close != 0 {
					e.byDate[models.Day(q.Date)] = q.Close
				}
			}
		}
	}
	x.entries[symbol] = e
	return e
}

// ledgerPrice is the unit price of the most recent trade at or before day.
func (x *Index) ledgerPrice(symbol string, day time.Time) float64 {
	txs := x.portfolio.Transactions(symbol)
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		if models.Day(tx.Date).After(day) || tx.UnitPrice == 0 {
			continue
		}
		return tx.UnitPrice
	}
	return 0
}

// Invalidate drops the cached index for symbol, or defers the drop while a
// batch is open.
func (x *Index) Invalidate(symbol string) {
	symbol = models.NormalizeSymbol(symbol)
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.depth > 0 {
		x.stale[symbol] = struct{}{}
		return
	}
	delete(x.entries, symbol)
}

// BeginBatch holds invalidations until the matching EndBatch.
func (x *Index) BeginBatch() {
	x.mu.Lock()
	x.depth++
	x.mu.Unlock()
}

// EndBatch releases one batch hold; the last release applies deferred drops.
func (x *Index) EndBatch() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.depth == 0 {
		return
	}
	x.depth--
	if x.depth > 0 {
		return
	}
	for symbol := range x.stale {
		delete(x.entries, symbol)
	}
	if n := len(x.stale); n > 0 {
		x.logger.Debug().Int("symbols", n).Msg("Price index entries dropped")
	}
	x.stale = make(map[string]struct{})
}

// Close stops listening to the portfolio.
func (x *Index) Close() {
	if x.unsubscribe != nil {
		x.unsubscribe()
	}
}

var _ interfaces.PriceIndex = (*Index)(nil)
