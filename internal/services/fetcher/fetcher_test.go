package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/models"
	"github.com/bobmcallan/quotefeed/internal/services/throttle"
)

type fakeThrottle struct {
	mu        sync.Mutex
	waitErr   error
	exhausted []common.QuotaScope
	observer  func(throttle.Event)
	waits     int
}

func (t *fakeThrottle) Wait(ctx context.Context) error {
	t.mu.Lock()
	t.waits++
	err := t.waitErr
	obs := t.observer
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if obs != nil {
		obs(throttle.Event{Suspended: true, Duration: time.Minute})
		obs(throttle.Event{Suspended: false})
	}
	return ctx.Err()
}

func (t *fakeThrottle) ExhaustQuota(scope common.QuotaScope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exhausted = append(t.exhausted, scope)
}

func (t *fakeThrottle) Subscribe(fn func(throttle.Event)) func() {
	return func() {
		t.mu.Lock()
		t.observer = nil
		t.mu.Unlock()
	}
}

func (t *fakeThrottle) scopes() []common.QuotaScope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]common.QuotaScope(nil), t.exhausted...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan Event
}

func record(f *Fetcher) *recorder {
	r := &recorder{done: make(chan Event, 8)}
	f.Subscribe(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		if ev.Type == EventComplete && !ev.Partial {
			r.done <- ev
		}
	})
	return r
}

func (r *recorder) waitDone(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.done:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Complete")
		return Event{}
	}
}

func (r *recorder) ofType(tp EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == tp {
			out = append(out, ev)
		}
	}
	return out
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newTestFetcher(t *testing.T, opts ...Option) (*Fetcher, *MockQuoteProvider, *fakeThrottle) {
	t.Helper()
	ctrl := gomock.NewController(t)
	provider := NewMockQuoteProvider(ctrl)
	provider.EXPECT().Name().Return("Mock").AnyTimes()
	provider.EXPECT().SupportsHistory().Return(true).AnyTimes()

	thr := &fakeThrottle{}
	opts = append([]Option{WithPostCallDelay(0), WithSleeper(noSleep)}, opts...)
	f := New(provider, thr, opts...)
	t.Cleanup(f.Close)
	return f, provider, thr
}

func quote(symbol string, close float64) *models.Quote {
	return &models.Quote{Symbol: symbol, Close: close, Date: time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC)}
}

func TestBeginFetchQuotes_Success(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	rec := record(f)

	provider.EXPECT().FetchQuote(gomock.Any(), "AAPL").Return(quote("AAPL", 188.9), nil)
	provider.EXPECT().FetchQuote(gomock.Any(), "MSFT").Return(quote("MSFT", 416.5), nil)

	require.NoError(t, f.BeginFetchQuotes("AAPL", "msft"))
	final := rec.waitDone(t)

	assert.True(t, final.Success)
	assert.Equal(t, 2, final.Completed)
	assert.Equal(t, 2, final.Total)
	assert.NotEmpty(t, final.SessionID)
	assert.Len(t, rec.ofType(EventQuoteAvailable), 2)
	assert.Len(t, rec.ofType(EventProgress), 2)
	assert.Equal(t, StateIdle, f.State())
}

func TestBeginFetchQuotes_DuplicateSubmissionFetchedOnce(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	rec := record(f)

	started := make(chan struct{})
	release := make(chan struct{})
	provider.EXPECT().FetchQuote(gomock.Any(), "AAPL").DoAndReturn(func(ctx context.Context, s string) (*models.Quote, error) {
		close(started)
		<-release
		return quote(s, 1), nil
	}).Times(1)

	require.NoError(t, f.BeginFetchQuotes("AAPL", "AAPL", " aapl "))
	<-started
	// In flight: a resubmission joins the running session and is ignored.
	require.NoError(t, f.BeginFetchQuotes("AAPL"))
	assert.Equal(t, StateRunning, f.State())
	close(release)

	final := rec.waitDone(t)
	assert.Equal(t, 1, final.Total)
	assert.Len(t, rec.ofType(EventQuoteAvailable), 1)
}

func TestNotFound_SkippedWithoutRetry(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	rec := record(f)

	provider.EXPECT().FetchQuote(gomock.Any(), "ZZZZ").
		Return(nil, common.NewNotFoundError("Mock", "ZZZZ", "unknown symbol")).Times(1)

	require.NoError(t, f.BeginFetchQuotes("ZZZZ"))
	final := rec.waitDone(t)

	assert.True(t, final.Success)
	notFound := rec.ofType(EventSymbolNotFound)
	require.Len(t, notFound, 1)
	assert.Equal(t, common.KindNotFound, notFound[0].Kind)
	assert.Empty(t, rec.ofType(EventError))
}

func TestIllegalSymbol_NeverCallsProvider(t *testing.T) {
	f, _, thr := newTestFetcher(t)
	rec := record(f)

	require.NoError(t, f.BeginFetchQuotes("BAD SYMBOL"))
	final := rec.waitDone(t)

	assert.Equal(t, 1, final.Completed)
	notFound := rec.ofType(EventSymbolNotFound)
	require.Len(t, notFound, 1)
	assert.Equal(t, common.KindIllegalSymbol, notFound[0].Kind)
	assert.Zero(t, thr.waits)
}

func TestTransient_RetriedOnceThenDropped(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	rec := record(f)

	gomock.InOrder(
		provider.EXPECT().FetchQuote(gomock.Any(), "FLAKY").
			Return(nil, common.NewTransientError("Mock", "FLAKY", "timeout", nil)),
		provider.EXPECT().FetchQuote(gomock.Any(), "OK").Return(quote("OK", 1), nil),
		provider.EXPECT().FetchQuote(gomock.Any(), "FLAKY").
			Return(nil, common.NewTransientError("Mock", "FLAKY", "timeout", nil)),
	)

	require.NoError(t, f.BeginFetchQuotes("FLAKY", "OK"))
	final := rec.waitDone(t)

	assert.True(t, final.Success)
	assert.Equal(t, 2, final.Completed)

	var partials []Event
	for _, ev := range rec.ofType(EventComplete) {
		if ev.Partial {
			partials = append(partials, ev)
		}
	}
	require.Len(t, partials, 2)
	assert.False(t, partials[0].Success)
	assert.Contains(t, partials[0].Message, "will retry")
	assert.Contains(t, partials[1].Message, "giving up")
}

func TestTransient_RecoversOnRetry(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	rec := record(f)

	gomock.InOrder(
		provider.EXPECT().FetchQuote(gomock.Any(), "AAPL").
			Return(nil, common.NewTransientError("Mock", "AAPL", "reset", nil)),
		provider.EXPECT().FetchQuote(gomock.Any(), "AAPL").Return(quote("AAPL", 2), nil),
	)

	require.NoError(t, f.BeginFetchQuotes("AAPL"))
	rec.waitDone(t)
	assert.Len(t, rec.ofType(EventQuoteAvailable), 1)
}

func TestRateLimited_ForcesMinuteCounter(t *testing.T) {
	f, provider, thr := newTestFetcher(t)
	rec := record(f)

	gomock.InOrder(
		provider.EXPECT().FetchQuote(gomock.Any(), "AAPL").
			Return(nil, common.NewRateLimitError("Mock", "AAPL", "too many requests")),
		provider.EXPECT().FetchQuote(gomock.Any(), "AAPL").Return(quote("AAPL", 2), nil),
	)

	require.NoError(t, f.BeginFetchQuotes("AAPL"))
	rec.waitDone(t)
	assert.Equal(t, []common.QuotaScope{common.ScopeMinute}, thr.scopes())
	assert.False(t, f.Disabled())
}

func TestFatal_DisablesProviderAfterOneCall(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	rec := record(f)

	fatal := common.NewFatalError("Mock", "AAPL", "service unavailable")
	fatal.StatusCode = 503
	provider.EXPECT().FetchQuote(gomock.Any(), "AAPL").Return(nil, fatal).Times(1)

	require.NoError(t, f.BeginFetchQuotes("AAPL", "MSFT", "IBM"))
	final := rec.waitDone(t)

	assert.False(t, final.Success)
	assert.True(t, f.Disabled())
	errs := rec.ofType(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, common.KindFatal, errs[0].Kind)

	err := f.BeginFetchQuotes("MSFT")
	assert.ErrorIs(t, err, ErrProviderDisabled)
	err = f.BeginFetchHistory("MSFT")
	assert.ErrorIs(t, err, ErrProviderDisabled)
	assert.True(t, f.Disabled())
}

func TestQuotaExceeded_ForcesScopeAndDisables(t *testing.T) {
	f, provider, thr := newTestFetcher(t)
	rec := record(f)

	provider.EXPECT().FetchQuote(gomock.Any(), "AAPL").
		Return(nil, common.NewQuotaError("Mock", "AAPL", common.ScopeDay, "25 requests per day")).Times(1)

	require.NoError(t, f.BeginFetchQuotes("AAPL"))
	rec.waitDone(t)

	assert.Equal(t, []common.QuotaScope{common.ScopeDay}, thr.scopes())
	assert.True(t, f.Disabled())
}

func TestThrottleQuota_StopsBeforeCalling(t *testing.T) {
	f, _, thr := newTestFetcher(t)
	thr.waitErr = common.NewQuotaError("Mock", "", common.ScopeMonth, "monthly limit of 500 calls reached")
	rec := record(f)

	require.NoError(t, f.BeginFetchQuotes("AAPL"))
	final := rec.waitDone(t)

	assert.False(t, final.Success)
	assert.True(t, f.Disabled())
}

func TestCancel_InFlightCallAbandonedSilently(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	rec := record(f)

	started := make(chan struct{})
	provider.EXPECT().FetchQuote(gomock.Any(), "SLOW").DoAndReturn(func(ctx context.Context, s string) (*models.Quote, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	require.NoError(t, f.BeginFetchQuotes("SLOW", "NEXT"))
	<-started
	f.Cancel()
	final := rec.waitDone(t)

	assert.False(t, final.Success)
	assert.Empty(t, rec.ofType(EventError))
	assert.Equal(t, StateCancelled, f.State())

	// A fresh session can start after cancellation.
	provider.EXPECT().FetchQuote(gomock.Any(), "NEXT").Return(quote("NEXT", 1), nil)
	require.NoError(t, f.BeginFetchQuotes("NEXT"))
	final = rec.waitDone(t)
	assert.True(t, final.Success)
}

func TestCancel_LastJobInFlightCompletesSuccessfully(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	rec := record(f)

	started := make(chan struct{})
	provider.EXPECT().FetchQuote(gomock.Any(), "SLOW").DoAndReturn(func(ctx context.Context, s string) (*models.Quote, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	require.NoError(t, f.BeginFetchQuotes("SLOW"))
	<-started
	f.Cancel()
	final := rec.waitDone(t)

	assert.True(t, final.Success)
	assert.Equal(t, "cancelled", final.Message)
	assert.Empty(t, rec.ofType(EventError))
}

func TestNext_EmptyQueueReleasesSession(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	rec := record(f)

	// A loop that has just found its queue empty.
	f.mu.Lock()
	f.active = true
	f.state = StateRunning
	f.sessionID = "old"
	f.mu.Unlock()

	_, ended := f.next()
	require.NotNil(t, ended)
	assert.Equal(t, "old", ended.sessionID)
	assert.Equal(t, StateIdle, f.State())

	// A submission landing before the old loop reports must start its own.
	provider.EXPECT().FetchQuote(gomock.Any(), "AAPL").Return(quote("AAPL", 189.5), nil)
	require.NoError(t, f.BeginFetchQuotes("AAPL"))
	final := rec.waitDone(t)

	assert.True(t, final.Success)
	assert.NotEqual(t, "old", final.SessionID)
	require.Len(t, rec.ofType(EventQuoteAvailable), 1)

	// The stale loop's late exit must not tear down the new session.
	f.finish("old", false, "late")
	assert.Len(t, rec.ofType(EventComplete), 1)
}

func TestEvents_CarryJobKind(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	rec := record(f)

	provider.EXPECT().FetchHistory(gomock.Any(), gomock.Any()).
		Return(false, common.NewNotFoundError("Mock", "GONE", "no history"))

	require.NoError(t, f.BeginFetchHistory("GONE"))
	rec.waitDone(t)

	nf := rec.ofType(EventSymbolNotFound)
	require.Len(t, nf, 1)
	assert.Equal(t, JobHistory, nf[0].Job)
	assert.Equal(t, common.KindNotFound, nf[0].Kind)
}

func TestBeginFetchHistory_EmitsHistory(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	rec := record(f)

	provider.EXPECT().FetchHistory(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, h *models.QuoteHistory) (bool, error) {
		assert.Equal(t, "AAPL", h.Symbol)
		return h.Merge(*quote("AAPL", 188.9)), nil
	})

	require.NoError(t, f.BeginFetchHistory("AAPL"))
	rec.waitDone(t)

	hist := rec.ofType(EventHistoryAvailable)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Changed)
	assert.Len(t, hist[0].History.Quotes, 1)
}

func TestQuoteAndHistoryJobsAreDistinct(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	rec := record(f)

	release := make(chan struct{})
	provider.EXPECT().FetchQuote(gomock.Any(), "AAPL").DoAndReturn(func(ctx context.Context, s string) (*models.Quote, error) {
		<-release
		return quote(s, 1), nil
	})
	provider.EXPECT().FetchHistory(gomock.Any(), gomock.Any()).Return(false, nil)

	require.NoError(t, f.BeginFetchQuotes("AAPL"))
	require.NoError(t, f.BeginFetchHistory("AAPL"))
	close(release)

	final := rec.waitDone(t)
	assert.Equal(t, 2, final.Total)
}

func TestThrottleEventsForwarded(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockQuoteProvider(ctrl)
	provider.EXPECT().Name().Return("Mock").AnyTimes()
	provider.EXPECT().FetchQuote(gomock.Any(), "AAPL").Return(quote("AAPL", 1), nil)

	thr := &fakeThrottle{}
	f := New(provider, &subscribingThrottle{fakeThrottle: thr}, WithPostCallDelay(0), WithSleeper(noSleep))
	defer f.Close()
	rec := record(f)

	require.NoError(t, f.BeginFetchQuotes("AAPL"))
	rec.waitDone(t)

	suspended := rec.ofType(EventSuspended)
	require.Len(t, suspended, 1)
	assert.Equal(t, time.Minute, suspended[0].Duration)
	assert.Len(t, rec.ofType(EventResumed), 1)
}

// subscribingThrottle wires Subscribe through to the fake's observer.
type subscribingThrottle struct {
	*fakeThrottle
}

func (s *subscribingThrottle) Subscribe(fn func(throttle.Event)) func() {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
	return s.fakeThrottle.Subscribe(fn)
}

func TestWait_ReturnsWhenSessionEnds(t *testing.T) {
	f, provider, _ := newTestFetcher(t)
	provider.EXPECT().FetchQuote(gomock.Any(), "AAPL").Return(quote("AAPL", 1), nil)

	require.NoError(t, f.BeginFetchQuotes("AAPL"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.Wait(ctx))
	_, completed, total := f.Progress()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, total)
}

func TestBeginFetchHistory_Unsupported(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockQuoteProvider(ctrl)
	provider.EXPECT().Name().Return("Mock").AnyTimes()
	provider.EXPECT().SupportsHistory().Return(false)

	f := New(provider, &fakeThrottle{})
	defer f.Close()

	err := f.BeginFetchHistory("AAPL")
	assert.True(t, errors.Is(err, ErrHistoryNotSupported))
}
