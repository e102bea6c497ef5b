// Package fetcher runs the sequential, throttled download loop for one quote
// provider.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/interfaces"
	"github.com/bobmcallan/quotefeed/internal/models"
	"github.com/bobmcallan/quotefeed/internal/services/throttle"
)

// MaxAttempts is how many times a job is tried per session.
const MaxAttempts = 2

// DefaultPostCallDelay is the pause after every provider call.
const DefaultPostCallDelay = time.Second

var (
	// ErrProviderDisabled is returned when a fatal failure has disabled the provider.
	ErrProviderDisabled = errors.New("provider disabled")
	// ErrHistoryNotSupported is returned by BeginFetchHistory for quote-only providers.
	ErrHistoryNotSupported = errors.New("history not supported")
)

// Throttle is the slice of *throttle.Throttle the fetcher drives.
type Throttle interface {
	Wait(ctx context.Context) error
	ExhaustQuota(scope common.QuotaScope)
	Subscribe(fn func(throttle.Event)) (unsubscribe func())
}

// Fetcher owns one provider and its throttle. At most one loop goroutine
// runs; submissions while running join the current session.
type Fetcher struct {
	provider  interfaces.QuoteProvider
	throttle  Throttle
	histories interfaces.HistoryStore
	logger    *common.Logger
	delay     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     State
	active    bool // a loop goroutine owns the session
	disabled  bool
	sessionID string
	pending   []job
	retry     []job
	queued    map[job]struct{} // pending, retry or in flight
	attempts  map[job]int
	inFlight  *job
	completed int
	total     int
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObs   int

	unsubscribeThrottle func()
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithPostCallDelay sets the pause after every provider call.
func WithPostCallDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.delay = d
	}
}

// WithSleeper replaces the context-aware sleep used for the post-call delay.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) {
		f.sleep = fn
	}
}

// WithHistoryStore sets where history jobs load the series they extend.
func WithHistoryStore(store interfaces.HistoryStore) Option {
	return func(f *Fetcher) {
		f.histories = store
	}
}

// New creates a fetcher for provider, gated by t.
func New(provider interfaces.QuoteProvider, t Throttle, opts ...Option) *Fetcher {
	f := &Fetcher{
		provider:  provider,
		throttle:  t,
		logger:    common.NewSilentLogger(),
		delay:     DefaultPostCallDelay,
		sleep:     throttle.Sleep,
		queued:    make(map[job]struct{}),
		attempts:  make(map[job]int),
		observers: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.unsubscribeThrottle = t.Subscribe(func(ev throttle.Event) {
		if ev.Suspended {
			f.emit(Event{Type: EventSuspended, Duration: ev.Duration})
		} else {
			f.emit(Event{Type: EventResumed})
		}
	})
	return f
}

// Provider returns the wrapped provider.
func (f *Fetcher) Provider() interfaces.QuoteProvider {
	return f.provider
}

// State returns the lifecycle state.
func (f *Fetcher) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Disabled reports whether a fatal failure has disabled the provider. The
// flag only clears when the fetcher is replaced.
func (f *Fetcher) Disabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disabled
}

// Progress returns the current session's counters.
func (f *Fetcher) Progress() (sessionID string, completed, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID, f.completed, f.total
}

// Subscribe registers fn for fetcher events.
func (f *Fetcher) Subscribe(fn func(Event)) (unsubscribe func()) {
	f.obsMu.Lock()
	id := f.nextObs
	f.nextObs++
	f.observers[id] = fn
	f.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.obsMu.Lock()
			delete(f.observers, id)
			f.obsMu.Unlock()
		})
	}
}

func (f *Fetcher) emit(ev Event) {
	ev.Provider = f.provider.Name()
	if ev.SessionID == "" {
		f.mu.Lock()
		ev.SessionID = f.sessionID
		f.mu.Unlock()
	}

	f.obsMu.Lock()
	fns := make([]func(Event), 0, len(f.observers))
	for _, fn := range f.observers {
		fns = append(fns, fn)
	}
	f.obsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// BeginFetchQuotes queues latest-quote jobs and starts the loop if idle.
func (f *Fetcher) BeginFetchQuotes(symbols ...string) error {
	return f.begin(JobQuote, symbols)
}

// BeginFetchHistory queues history downloads on the same loop.
func (f *Fetcher) BeginFetchHistory(symbols ...string) error {
	if !f.provider.SupportsHistory() {
		return fmt.Errorf("%s: %w", f.provider.Name(), ErrHistoryNotSupported)
	}
	return f.begin(JobHistory, symbols)
}

func (f *Fetcher) begin(kind JobKind, symbols []string) error {
	f.mu.Lock()
	// A cancelled loop is still unwinding; let it finish first.
	for f.active && f.state == StateCancelled {
		done := f.done
		f.mu.Unlock()
		<-done
		f.mu.Lock()
	}
	if f.disabled {
		f.mu.Unlock()
		return fmt.Errorf("%s: %w", f.provider.Name(), ErrProviderDisabled)
	}

	starting := !f.active
	if starting {
		f.sessionID = uuid.New().String()
		f.pending = nil
		f.retry = nil
		f.queued = make(map[job]struct{})
		f.attempts = make(map[job]int)
		f.completed = 0
		f.total = 0
	}

	added := 0
	for _, s := range symbols {
		j := job{kind: kind, symbol: models.NormalizeSymbol(s)}
		if _, dup := f.queued[j]; dup {
			continue
		}
		if f.attempts[j] >= MaxAttempts {
			continue
		}
		f.queued[j] = struct{}{}
		f.pending = append(f.pending, j)
		added++
	}
	f.total += added

	if !starting {
		f.mu.Unlock()
		return nil
	}
	if added == 0 {
		f.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.state = StateRunning
	f.active = true
	f.done = make(chan struct{})
	sessionID := f.sessionID
	done := f.done
	f.mu.Unlock()

	f.logger.Info().Str("provider", f.provider.Name()).Str("session", sessionID).Int("symbols", added).Msg("Fetch session started")
	f.safeGo("fetch-loop", sessionID, func() {
		defer close(done)
		f.run(ctx, sessionID)
	})
	return nil
}

// safeGo launches a goroutine with panic recovery and logging.
func (f *Fetcher) safeGo(name, sessionID string, fn func()) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				f.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in fetcher goroutine")
				f.finish(sessionID, false, "internal error")
			}
		}()
		fn()
	}()
}

// Cancel stops the loop after the in-flight call is abandoned.
func (f *Fetcher) Cancel() {
	f.mu.Lock()
	cancel := f.cancel
	if f.state == StateRunning {
		f.state = StateCancelled
	}
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current session ends or ctx is done.
func (f *Fetcher) Wait(ctx context.Context) error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the loop, waits for it and detaches from the throttle.
func (f *Fetcher) Close() {
	f.Cancel()
	f.wg.Wait()
	if f.unsubscribeThrottle != nil {
		f.unsubscribeThrottle()
	}
}

// next pops the next job, draining the retry set once pending is empty.
// When nothing is left the session ends under the same lock, so a
// submission racing with the end starts a new loop instead of being lost.
func (f *Fetcher) next() (job, *summary) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 && len(f.retry) > 0 {
		f.pending = f.retry
		f.retry = nil
	}
	if len(f.pending) == 0 {
		s := f.endLocked()
		return job{}, &s
	}
	j := f.pending[0]
	f.pending = f.pending[1:]
	f.attempts[j]++
	f.inFlight = &j
	return j, nil
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeDropped
	outcomeFatal
	outcomeCanceled
)

func (f *Fetcher) run(ctx context.Context, sessionID string) {
	for {
		if ctx.Err() != nil {
			f.finishCanceled(sessionID)
			return
		}

		j, ended := f.next()
		if ended != nil {
			f.report(*ended, true, "")
			return
		}

		if !models.IsLegalSymbol(j.symbol) {
			f.settle(j, outcomeDone)
			f.emit(Event{Type: EventSymbolNotFound, Symbol: j.symbol, Job: j.kind, Kind: common.KindIllegalSymbol,
				Message: common.NewIllegalSymbolError(f.provider.Name(), j.symbol).Error()})
			f.emitProgress(j.symbol)
			continue
		}

		out := f.process(ctx, j)
		switch out {
		case outcomeCanceled:
			f.finishCanceled(sessionID)
			return
		case outcomeFatal:
			f.finish(sessionID, false, "provider disabled")
			return
		}
		f.settle(j, out)
		f.emitProgress(j.symbol)

		if err := f.sleep(ctx, f.delay); err != nil {
			f.finishCanceled(sessionID)
			return
		}
	}
}

// settle records the outcome of j. Retried jobs go back on the retry set.
func (f *Fetcher) settle(j job, out outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight = nil
	if out == outcomeRetry {
		f.retry = append(f.retry, j)
		return
	}
	delete(f.queued, j)
	f.completed++
}

func (f *Fetcher) emitProgress(symbol string) {
	f.mu.Lock()
	completed, total := f.completed, f.total
	f.mu.Unlock()
	f.emit(Event{Type: EventProgress, Symbol: symbol, Completed: completed, Total: total})
}

func (f *Fetcher) process(ctx context.Context, j job) outcome {
	if err := f.throttle.Wait(ctx); err != nil {
		return f.route(ctx, j, err)
	}

	switch j.kind {
	case JobHistory:
		h, err := f.loadHistory(ctx, j.symbol)
		if err != nil {
			return f.route(ctx, j, err)
		}
		changed, err := f.provider.FetchHistory(ctx, h)
		if err != nil {
			return f.route(ctx, j, err)
		}
		f.emit(Event{Type: EventHistoryAvailable, Symbol: j.symbol, Job: j.kind, History: h, Changed: changed})
	default:
		q, err := f.provider.FetchQuote(ctx, j.symbol)
		if err != nil {
			return f.route(ctx, j, err)
		}
		f.emit(Event{Type: EventQuoteAvailable, Symbol: j.symbol, Job: j.kind, Quote: q})
	}
	return outcomeDone
}

func (f *Fetcher) loadHistory(ctx context.Context, symbol string) (*models.QuoteHistory, error) {
	if f.histories == nil {
		return models.NewQuoteHistory(symbol), nil
	}
	h, err := f.histories.Load(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", symbol, err)
	}
	return h, nil
}

// route classifies a failure and applies its policy.
func (f *Fetcher) route(ctx context.Context, j job, err error) outcome {
	kind := common.KindOf(err)
	if ctx.Err() != nil {
		kind = common.KindCanceled
	}
	name := f.provider.Name()

	switch kind {
	case common.KindCanceled:
		return outcomeCanceled

	case common.KindNotFound, common.KindIllegalSymbol:
		f.logger.Info().Str("provider", name).Str("symbol", j.symbol).Msg("Symbol not found")
		f.emit(Event{Type: EventSymbolNotFound, Symbol: j.symbol, Job: j.kind, Kind: kind, Message: err.Error()})
		return outcomeDone

	case common.KindFatal, common.KindQuotaExceeded:
		if kind == common.KindQuotaExceeded {
			f.throttle.ExhaustQuota(common.ScopeOf(err))
		}
		f.mu.Lock()
		f.disabled = true
		f.mu.Unlock()
		f.logger.Error().Err(err).Str("provider", name).Str("symbol", j.symbol).Msg("Provider disabled for this session")
		f.emit(Event{Type: EventError, Symbol: j.symbol, Job: j.kind, Kind: kind, Message: err.Error()})
		return outcomeFatal
	}

	// Transient and RateLimited.
	if kind == common.KindRateLimited {
		f.throttle.ExhaustQuota(common.ScopeMinute)
	}
	f.mu.Lock()
	attempts := f.attempts[j]
	f.mu.Unlock()

	out := outcomeRetry
	msg := fmt.Sprintf("%s: will retry: %v", j.symbol, err)
	if attempts >= MaxAttempts {
		out = outcomeDropped
		msg = fmt.Sprintf("%s: giving up: %v", j.symbol, err)
	}
	f.logger.Warn().Err(err).Str("provider", name).Str("symbol", j.symbol).Int("attempt", attempts).Msg("Provider call failed")
	f.emit(Event{Type: EventComplete, Symbol: j.symbol, Job: j.kind, Success: false, Partial: true, Kind: kind, Message: msg})
	return out
}

// finishCanceled ends a cancelled session. The abandoned in-flight job does
// not count as left undone.
func (f *Fetcher) finishCanceled(sessionID string) {
	f.mu.Lock()
	success := len(f.pending) == 0 && len(f.retry) == 0
	f.mu.Unlock()
	f.finish(sessionID, success, "cancelled")
}

type summary struct {
	sessionID string
	completed int
	total     int
}

// finish ends the session if the loop still owns it and emits the final
// Complete.
func (f *Fetcher) finish(sessionID string, success bool, message string) {
	f.mu.Lock()
	if !f.active || f.sessionID != sessionID {
		f.mu.Unlock()
		return
	}
	s := f.endLocked()
	f.mu.Unlock()
	f.report(s, success, message)
}

// endLocked resets the session state. Caller holds f.mu.
func (f *Fetcher) endLocked() summary {
	if f.state == StateRunning {
		f.state = StateIdle
	}
	f.active = false
	f.pending = nil
	f.retry = nil
	f.inFlight = nil
	f.queued = make(map[job]struct{})
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	return summary{sessionID: f.sessionID, completed: f.completed, total: f.total}
}

func (f *Fetcher) report(s summary, success bool, message string) {
	f.logger.Info().Str("provider", f.provider.Name()).Str("session", s.sessionID).
		Int("completed", s.completed).Int("total", s.total).Bool("success", success).Msg("Fetch session finished")
	f.emit(Event{Type: EventComplete, SessionID: s.sessionID, Success: success, Completed: s.completed, Total: s.total, Message: message})
}
