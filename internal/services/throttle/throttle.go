// Package throttle keeps persisted per-provider call counters and decides how
// long a fetcher must pause before its next request.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/interfaces"
	"github.com/bobmcallan/quotefeed/internal/models"
	"github.com/bobmcallan/quotefeed/internal/storage/jsonfile"
)

// MinuteBackoff is the wait once the per-minute limit is reached. It is a
// whole minute plus one second rather than the time left in the window.
const MinuteBackoff = 61 * time.Second

// DefaultDebounce is how long writes are coalesced after a state change.
const DefaultDebounce = time.Second

// Limits are the provider ceilings. Zero means unlimited.
type Limits struct {
	PerMinute int
	PerDay    int
	PerMonth  int
}

// LimitsFrom extracts the limits from provider settings.
func LimitsFrom(s models.ProviderSettings) Limits {
	return Limits{PerMinute: s.RequestsPerMinute, PerDay: s.RequestsPerDay, PerMonth: s.RequestsPerMonth}
}

// Event is sent to subscribers around a quota sleep.
type Event struct {
	Suspended bool
	Duration  time.Duration
}

// Throttle is the call ledger for one provider, persisted to one file.
type Throttle struct {
	path     string
	provider string
	logger   *common.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	debounce time.Duration

	mu     sync.Mutex
	state  models.ThrottleState
	limits Limits
	dirty  bool
	timer  *time.Timer

	writeMu sync.Mutex
	writes  atomic.Int64

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObs   int
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(t *Throttle) {
		t.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) {
		t.now = now
	}
}

// WithSleeper replaces the context-aware sleep used by Wait.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Throttle) {
		t.sleep = fn
	}
}

// WithDebounce sets the write coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(t *Throttle) {
		t.debounce = d
	}
}

// New loads the throttle state at path. A missing or unreadable file gives
// zeroed counters.
func New(path, provider string, limits Limits, opts ...Option) *Throttle {
	t := &Throttle{
		path:      path,
		provider:  provider,
		logger:    common.NewSilentLogger(),
		now:       time.Now,
		sleep:     Sleep,
		debounce:  DefaultDebounce,
		limits:    limits,
		observers: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.state = t.load()
	return t
}

func (t *Throttle) load() models.ThrottleState {
	var st models.ThrottleState
	if err := jsonfile.Read(t.path, &st); err != nil {
		if !errors.Is(err, jsonfile.ErrNotExist) {
			t.logger.Warn().Err(err).Str("provider", t.provider).Msg("Throttle state unreadable, starting fresh")
		}
		return models.ThrottleState{Provider: t.provider}
	}
	st.Provider = t.provider
	return st
}

// Provider returns the provider name this throttle belongs to.
func (t *Throttle) Provider() string {
	return t.provider
}

// Path returns the backing file.
func (t *Throttle) Path() string {
	return t.path
}

// State returns a copy of the current counters.
func (t *Throttle) State() models.ThrottleState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetLimits replaces the limits, e.g. after a settings change.
func (t *Throttle) SetLimits(l Limits) {
	t.mu.Lock()
	t.limits = l
	t.mu.Unlock()
}

// RecordCall counts one attempted call against every window.
func (t *Throttle) RecordCall() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.rollover(now)
	t.state.CallsThisMinute++
	t.state.CallsToday++
	t.state.CallsThisMonth++
	t.state.LastCall = now
	t.markDirty()
}

// SleepDuration rolls expired windows over and returns how long to wait
// before the next call. A reached daily or monthly limit is a quota error.
func (t *Throttle) SleepDuration() (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.rollover(now)

	switch scope := t.exhausted(now); scope {
	case common.ScopeMonth, common.ScopeDay:
		return 0, common.NewQuotaError(t.provider, "", scope,
			fmt.Sprintf("provider reported its %s quota used up", scope))
	case common.ScopeMinute:
		return MinuteBackoff, nil
	}

	if t.limits.PerMonth > 0 && t.state.CallsThisMonth >= t.limits.PerMonth {
		return 0, common.NewQuotaError(t.provider, "", common.ScopeMonth,
			fmt.Sprintf("monthly limit of %d calls reached", t.limits.PerMonth))
	}
	if t.limits.PerDay > 0 && t.state.CallsToday >= t.limits.PerDay {
		return 0, common.NewQuotaError(t.provider, "", common.ScopeDay,
			fmt.Sprintf("daily limit of %d calls reached", t.limits.PerDay))
	}
	if t.limits.PerMinute > 0 && t.state.CallsThisMinute >= t.limits.PerMinute {
		return MinuteBackoff, nil
	}
	return 0, nil
}

// Wait sleeps for SleepDuration, notifying subscribers before and after.
func (t *Throttle) Wait(ctx context.Context) error {
	d, err := t.SleepDuration()
	if err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	t.logger.Info().Str("provider", t.provider).Dur("sleep", d).Msg("Provider rate limit reached, suspending")
	t.notify(Event{Suspended: true, Duration: d})
	err = t.sleep(ctx, d)
	t.notify(Event{Suspended: false})
	return err
}

// ExhaustQuota pushes the counter for scope up to its limit and records the
// scope, so the next SleepDuration backs off until the window ends even when
// no local limit is configured. Used when the provider itself reports a limit.
func (t *Throttle) ExhaustQuota(scope common.QuotaScope) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.rollover(now)

	switch scope {
	case common.ScopeMinute:
		t.state.CallsThisMinute = atLeast(t.state.CallsThisMinute, t.limits.PerMinute)
	case common.ScopeDay:
		t.state.CallsToday = atLeast(t.state.CallsToday, t.limits.PerDay)
	case common.ScopeMonth:
		t.state.CallsThisMonth = atLeast(t.state.CallsThisMonth, t.limits.PerMonth)
	default:
		return
	}
	// A wider window already in force is kept.
	if current := common.ParseQuotaScope(t.state.Exhausted); current <= scope || !sameWindow(t.state.ExhaustedAt, now, current) {
		t.state.Exhausted = scope.String()
		t.state.ExhaustedAt = now
	}
	t.state.LastCall = now
	t.markDirty()

	t.logger.Warn().Str("provider", t.provider).Str("scope", scope.String()).Msg("Provider reported limit, throttle counters forced")
}

// exhausted returns the provider-reported window still in force at now, and
// clears the marker once its window has passed. Caller holds t.mu.
func (t *Throttle) exhausted(now time.Time) common.QuotaScope {
	scope := common.ParseQuotaScope(t.state.Exhausted)
	if scope == common.ScopeNone {
		return scope
	}
	if sameWindow(t.state.ExhaustedAt, now, scope) {
		return scope
	}
	t.state.Exhausted = ""
	t.state.ExhaustedAt = time.Time{}
	t.markDirty()
	return common.ScopeNone
}

// sameWindow reports whether a and b fall in the same minute, day or month.
func sameWindow(a, b time.Time, scope common.QuotaScope) bool {
	if a.IsZero() {
		return false
	}
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	switch scope {
	case common.ScopeMonth:
		return ay == by && am == bm
	case common.ScopeDay:
		return ay == by && am == bm && ad == bd
	case common.ScopeMinute:
		return ay == by && am == bm && ad == bd && a.Hour() == b.Hour() && a.Minute() == b.Minute()
	}
	return false
}

func atLeast(v, limit int) int {
	if limit > v {
		return limit
	}
	return v
}

// rollover zeroes counters whose window no longer contains now. Caller
// holds t.mu.
func (t *Throttle) rollover(now time.Time) {
	last := t.state.LastCall
	if last.IsZero() {
		return
	}
	last = last.In(now.Location())

	before := t.state
	ly, lm, ld := last.Date()
	ny, nm, nd := now.Date()

	switch {
	case ly != ny || lm != nm:
		t.state.CallsThisMonth = 0
		t.state.CallsToday = 0
		t.state.CallsThisMinute = 0
	case ld != nd:
		t.state.CallsToday = 0
		t.state.CallsThisMinute = 0
	case last.Hour() != now.Hour() || last.Minute() != now.Minute():
		t.state.CallsThisMinute = 0
	}

	if t.state != before {
		t.markDirty()
	}
}

// Subscribe registers fn for suspend/resume events.
func (t *Throttle) Subscribe(fn func(Event)) (unsubscribe func()) {
	t.obsMu.Lock()
	id := t.nextObs
	t.nextObs++
	t.observers[id] = fn
	t.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.obsMu.Lock()
			delete(t.observers, id)
			t.obsMu.Unlock()
		})
	}
}

func (t *Throttle) notify(ev Event) {
	t.obsMu.Lock()
	fns := make([]func(Event), 0, len(t.observers))
	for _, fn := range t.observers {
		fns = append(fns, fn)
	}
	t.obsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// markDirty schedules one coalesced flush. Caller holds t.mu.
func (t *Throttle) markDirty() {
	t.dirty = true
	if t.timer == nil {
		t.timer = time.AfterFunc(t.debounce, t.flushDebounced)
	}
}

func (t *Throttle) flushDebounced() {
	if err := t.Flush(); err != nil {
		t.logger.Warn().Err(err).Str("provider", t.provider).Msg("Failed to persist throttle state")
	}
}

// Flush writes the state now if it changed since the last write.
func (t *Throttle) Flush() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	snapshot := t.state
	t.dirty = false
	t.mu.Unlock()

	t.writes.Add(1)
	return jsonfile.Write(t.path, snapshot)
}

// Close flushes pending state. Errors are logged, not returned.
func (t *Throttle) Close() error {
	t.flushDebounced()
	return nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ interfaces.CallGate = (*Throttle)(nil)
