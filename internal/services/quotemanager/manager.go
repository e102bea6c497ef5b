// Package quotemanager keeps portfolio prices and stored quote histories
// current by driving one provider's fetcher.
package quotemanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobmcallan/quotefeed/internal/calendar"
	"github.com/bobmcallan/quotefeed/internal/clients"
	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/interfaces"
	"github.com/bobmcallan/quotefeed/internal/models"
	"github.com/bobmcallan/quotefeed/internal/services/fetcher"
	"github.com/bobmcallan/quotefeed/internal/services/throttle"
)

// ErrNoProvider is returned when no provider has been configured.
var ErrNoProvider = errors.New("no quote provider configured")

// ProviderFactory builds the adapter for a provider configuration.
type ProviderFactory func(settings models.ProviderSettings, opts clients.Options) (interfaces.QuoteProvider, error)

// Status is a point-in-time view of the manager.
type Status struct {
	Provider   string   `json:"provider"`
	State      string   `json:"state"`
	Running    bool     `json:"running"`
	Disabled   bool     `json:"disabled"`
	SessionID  string   `json:"session_id,omitempty"`
	Completed  int      `json:"completed"`
	Total      int      `json:"total"`
	Summary    string   `json:"summary,omitempty"`
	LastErrors []string `json:"last_errors,omitempty"`
}

// Manager applies fetcher results to the portfolio and history store.
type Manager struct {
	portfolio interfaces.Portfolio
	index     interfaces.PriceIndex
	histories interfaces.HistoryStore
	registry  *throttle.Registry
	logger    *common.Logger

	now           func() time.Time
	calendar      models.TradingCalendar
	historyMaxAge time.Duration
	clientOpts    clients.Options
	fetcherOpts   []fetcher.Option
	newProvider   ProviderFactory

	setMu sync.Mutex // serialises SetProvider

	mu          sync.Mutex
	settings    models.ProviderSettings
	fetcher     *fetcher.Fetcher
	unsubscribe func()
	fetched     map[string]struct{}
	errs        []string
	lastErrors  []string
	summary     string

	applyMu    sync.Mutex
	processing atomic.Bool

	unsubscribePortfolio func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCalendar sets the trading calendar used for completeness checks.
func WithCalendar(cal models.TradingCalendar) Option {
	return func(m *Manager) { m.calendar = cal }
}

// WithHistoryMaxAge sets how long a history download stays fresh.
func WithHistoryMaxAge(d time.Duration) Option {
	return func(m *Manager) { m.historyMaxAge = d }
}

// WithClientOptions sets the HTTP plumbing passed to every adapter. The
// gate is always replaced by the provider's throttle.
func WithClientOptions(opts clients.Options) Option {
	return func(m *Manager) { m.clientOpts = opts }
}

// WithFetcherOptions appends options for every fetcher the manager builds.
func WithFetcherOptions(opts ...fetcher.Option) Option {
	return func(m *Manager) { m.fetcherOpts = append(m.fetcherOpts, opts...) }
}

// WithProviderFactory replaces clients.NewProvider.
func WithProviderFactory(fn ProviderFactory) Option {
	return func(m *Manager) { m.newProvider = fn }
}

// NewManager creates a manager and subscribes it to portfolio changes. No
// fetching happens until SetProvider is called.
func NewManager(portfolio interfaces.Portfolio, index interfaces.PriceIndex, histories interfaces.HistoryStore, registry *throttle.Registry, logger *common.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	m := &Manager{
		portfolio:     portfolio,
		index:         index,
		histories:     histories,
		registry:      registry,
		logger:        logger,
		now:           time.Now,
		calendar:      calendar.New(),
		historyMaxAge: common.FreshnessHistory,
		newProvider:   clients.NewProvider,
		fetched:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.unsubscribePortfolio = portfolio.Subscribe(m.onPortfolioChange)
	return m
}

// SetProvider replaces the active provider. The old fetcher is cancelled
// and closed before the new one is built.
func (m *Manager) SetProvider(settings models.ProviderSettings) error {
	m.setMu.Lock()
	defer m.setMu.Unlock()

	m.mu.Lock()
	old, unsubscribe := m.fetcher, m.unsubscribe
	m.fetcher, m.unsubscribe = nil, nil
	m.mu.Unlock()

	if old != nil {
		old.Close()
		unsubscribe()
		m.logger.Info().Str("provider", old.Provider().Name()).Msg("Quote provider stopped")
	}

	t := m.registry.For(settings.Name, throttle.LimitsFrom(settings))
	clientOpts := m.clientOpts
	clientOpts.Gate = t
	if clientOpts.Logger == nil {
		clientOpts.Logger = m.logger
	}
	provider, err := m.newProvider(settings, clientOpts)
	if err != nil {
		return fmt.Errorf("failed to create provider %s: %w", settings.Name, err)
	}

	fopts := append([]fetcher.Option{
		fetcher.WithLogger(m.logger),
		fetcher.WithHistoryStore(m.histories),
	}, m.fetcherOpts...)
	f := fetcher.New(provider, t, fopts...)

	m.mu.Lock()
	m.settings = settings
	m.fetcher = f
	m.unsubscribe = f.Subscribe(m.onFetcherEvent)
	m.fetched = make(map[string]struct{})
	m.mu.Unlock()

	m.logger.Info().
		Str("provider", provider.Name()).
		Int("per_minute", settings.RequestsPerMinute).
		Int("per_day", settings.RequestsPerDay).
		Bool("history", settings.HistoryEnabled && provider.SupportsHistory()).
		Msg("Quote provider set")
	return nil
}

// UpdateQuotes re-fetches every held symbol regardless of what this session
// already fetched. A provider disabled by a fatal error stays disabled until
// SetProvider replaces it.
func (m *Manager) UpdateQuotes() error {
	f := m.current()
	if f == nil {
		return ErrNoProvider
	}

	var symbols []string
	for _, sec := range m.portfolio.Securities() {
		symbols = append(symbols, sec.Symbol)
	}
	return m.fetch(f, symbols)
}

func (m *Manager) current() *fetcher.Fetcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetcher
}

// fetch queues quote jobs for symbols that are not known to be missing,
// plus history downloads for any that need one.
func (m *Manager) fetch(f *fetcher.Fetcher, symbols []string) error {
	ctx := context.Background()

	var quotes, histories []string
	for _, symbol := range symbols {
		h, err := m.histories.Load(ctx, symbol)
		if err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to load history")
			h = models.NewQuoteHistory(symbol)
		}
		if h.NotFound {
			continue
		}
		quotes = append(quotes, symbol)
		if m.needsHistory(ctx, h) {
			histories = append(histories, symbol)
		}
	}
	if len(quotes) == 0 {
		return nil
	}

	m.mu.Lock()
	for _, s := range quotes {
		m.fetched[s] = struct{}{}
	}
	historyEnabled := m.settings.HistoryEnabled
	m.mu.Unlock()

	if err := f.BeginFetchQuotes(quotes...); err != nil {
		return err
	}
	if historyEnabled && len(histories) > 0 && f.Provider().SupportsHistory() {
		if err := f.BeginFetchHistory(histories...); err != nil {
			return err
		}
	}
	return nil
}

// needsHistory reports whether h is incomplete and was not downloaded
// within the freshness window.
func (m *Manager) needsHistory(ctx context.Context, h *models.QuoteHistory) bool {
	now := m.now()
	if h.IsComplete(m.calendar, now) {
		return false
	}
	last, ok, err := m.histories.DownloadLog().LastDownloaded(ctx, h.Symbol)
	if err != nil {
		m.logger.Warn().Err(err).Str("symbol", h.Symbol).Msg("Failed to read download log")
		return true
	}
	return !ok || !common.IsFreshAt(last, m.historyMaxAge, now)
}

func (m *Manager) onPortfolioChange(ev models.ChangeEvent) {
	if m.processing.Load() {
		return
	}

	if ev.Type == models.ChangeDeleted {
		m.mu.Lock()
		delete(m.fetched, ev.Symbol)
		m.mu.Unlock()
		return
	}

	if _, held := m.portfolio.Security(ev.Symbol); !held {
		return
	}

	m.mu.Lock()
	f := m.fetcher
	_, seen := m.fetched[ev.Symbol]
	m.mu.Unlock()
	if f == nil || seen {
		return
	}

	if err := m.fetch(f, []string{ev.Symbol}); err != nil {
		m.logger.Warn().Err(err).Str("symbol", ev.Symbol).Msg("Failed to queue quote fetch")
	}
}

func (m *Manager) onFetcherEvent(ev fetcher.Event) {
	switch ev.Type {
	case fetcher.EventQuoteAvailable:
		m.applyQuote(ev.Quote)

	case fetcher.EventHistoryAvailable:
		m.applyHistory(ev.History, ev.Changed)

	case fetcher.EventSymbolNotFound:
		switch {
		case ev.Job == fetcher.JobHistory:
			// The symbol may still quote; only the series is missing.
			m.logger.Info().Str("provider", ev.Provider).Str("symbol", ev.Symbol).Msg("No history available")
			m.markHistoryAttempt(ev.Symbol)
		case ev.Kind == common.KindNotFound:
			m.markNotFound(ev.Symbol)
		}
		m.addError(ev.Message)

	case fetcher.EventError:
		m.addError(ev.Message)

	case fetcher.EventSuspended:
		m.logger.Info().Str("provider", ev.Provider).Dur("duration", ev.Duration).Msg("Quote fetching suspended by rate limit")

	case fetcher.EventResumed:
		m.logger.Info().Str("provider", ev.Provider).Msg("Quote fetching resumed")

	case fetcher.EventComplete:
		if ev.Partial {
			m.addError(ev.Message)
			return
		}
		m.finishSession(ev)
	}
}

// apply runs fn as one bulk change: portfolio notifications are held until
// fn returns and index invalidations until they have been delivered.
func (m *Manager) apply(fn func()) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.processing.Store(true)
	defer m.processing.Store(false)

	m.index.BeginBatch()
	defer m.index.EndBatch()

	m.portfolio.BeginUpdate()
	defer m.portfolio.EndUpdate()

	fn()
}

func (m *Manager) applyQuote(q *models.Quote) {
	if q == nil {
		return
	}
	symbol := models.NormalizeSymbol(q.Symbol)
	ctx := context.Background()

	m.apply(func() {
		m.updateSecurity(symbol, q.Name, q.Close, q.Date)

		h, err := m.histories.Load(ctx, symbol)
		if err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to load history")
			return
		}
		if !h.Merge(*q) {
			return
		}
		h.Complete = h.IsComplete(m.calendar, m.now())
		if err := m.histories.Save(ctx, h); err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to save history")
			return
		}
		m.index.Invalidate(symbol)
	})
}

func (m *Manager) applyHistory(h *models.QuoteHistory, changed bool) {
	if h == nil {
		return
	}
	ctx := context.Background()
	now := m.now()

	m.apply(func() {
		if complete := h.IsComplete(m.calendar, now); complete != h.Complete {
			h.Complete = complete
			changed = true
		}
		if latest, ok := h.Latest(); ok {
			m.updateSecurity(h.Symbol, h.Name, 0, latest.Date)
		}
		if changed {
			if err := m.histories.Save(ctx, h); err != nil {
				m.logger.Warn().Err(err).Str("symbol", h.Symbol).Msg("Failed to save history")
				return
			}
			m.index.Invalidate(h.Symbol)
		}
		if err := m.histories.DownloadLog().MarkDownloaded(ctx, h.Symbol, now); err != nil {
			m.logger.Warn().Err(err).Str("symbol", h.Symbol).Msg("Failed to update download log")
		}
	})
}

// updateSecurity sets the live price from a nonzero close and fills in the
// name only where the user has not given one.
func (m *Manager) updateSecurity(symbol, name string, price float64, date time.Time) {
	sec, ok := m.portfolio.Security(symbol)
	if !ok {
		return
	}
	setName := name != "" && (sec.Name == "" || sec.Name == sec.Symbol) && sec.Name != name
	setPrice := price != 0 && (sec.Price != price || !sec.PriceDate.Equal(models.Day(date)))
	if !setName && !setPrice {
		return
	}
	m.portfolio.UpdateSecurity(symbol, func(sec *models.Security) {
		if setName {
			sec.Name = name
		}
		if setPrice {
			sec.Price = price
			sec.PriceDate = models.Day(date)
		}
	})
}

func (m *Manager) markNotFound(symbol string) {
	ctx := context.Background()
	h, err := m.histories.Load(ctx, symbol)
	if err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to load history")
		return
	}
	if h.NotFound {
		return
	}
	h.NotFound = true
	if err := m.histories.Save(ctx, h); err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to save history")
	}
}

// markHistoryAttempt records a failed history download so the symbol is not
// asked for again before the freshness window passes.
func (m *Manager) markHistoryAttempt(symbol string) {
	if err := m.histories.DownloadLog().MarkDownloaded(context.Background(), symbol, m.now()); err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to update download log")
	}
}

func (m *Manager) addError(msg string) {
	if msg == "" {
		return
	}
	m.mu.Lock()
	m.errs = append(m.errs, msg)
	m.mu.Unlock()
}

// finishSession surfaces the errors collected during the session once.
func (m *Manager) finishSession(ev fetcher.Event) {
	m.mu.Lock()
	errs := m.errs
	m.errs = nil
	summary := fmt.Sprintf("%d of %d jobs completed", ev.Completed, ev.Total)
	if ev.Message != "" {
		summary += " (" + ev.Message + ")"
	}
	if len(errs) > 0 {
		summary += fmt.Sprintf(", %d errors", len(errs))
	}
	m.summary = summary
	m.lastErrors = errs
	m.mu.Unlock()

	event := m.logger.Info()
	if len(errs) > 0 {
		event = m.logger.Warn().Str("errors", strings.Join(errs, "; "))
	}
	event.Str("provider", ev.Provider).Str("session", ev.SessionID).Bool("success", ev.Success).Msg(summary)
}

// LastErrors returns the errors reported by the last finished session.
func (m *Manager) LastErrors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lastErrors...)
}

// Status reports the provider and session progress.
func (m *Manager) Status() Status {
	m.mu.Lock()
	f := m.fetcher
	st := Status{
		Provider:   m.settings.Name,
		Summary:    m.summary,
		LastErrors: append([]string(nil), m.lastErrors...),
	}
	m.mu.Unlock()

	if f == nil {
		st.State = fetcher.StateIdle.String()
		return st
	}
	st.Provider = f.Provider().Name()
	state := f.State()
	st.State = state.String()
	st.Running = state == fetcher.StateRunning
	st.Disabled = f.Disabled()
	st.SessionID, st.Completed, st.Total = f.Progress()
	return st
}

// Wait blocks until the current fetch session ends or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	f := m.current()
	if f == nil {
		return nil
	}
	return f.Wait(ctx)
}

// Cancel stops the running fetch session, if any. The provider stays usable.
func (m *Manager) Cancel() {
	if f := m.current(); f != nil {
		f.Cancel()
	}
}

// Close stops fetching and detaches from the portfolio.
func (m *Manager) Close() {
	if m.unsubscribePortfolio != nil {
		m.unsubscribePortfolio()
	}
	m.setMu.Lock()
	defer m.setMu.Unlock()

	m.mu.Lock()
	f, unsubscribe := m.fetcher, m.unsubscribe
	m.fetcher, m.unsubscribe = nil, nil
	m.mu.Unlock()

	if f != nil {
		f.Close()
		unsubscribe()
	}
}
