package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quotefeed/internal/calendar"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestMerge_OverwriteWins(t *testing.T) {
	h := NewQuoteHistory("MSFT")

	q := Quote{Symbol: "MSFT", Date: day("2024-05-02"), Close: 100}
	q2 := Quote{Symbol: "MSFT", Date: day("2024-05-02"), Close: 101.5, Volume: 10}

	assert.True(t, h.Merge(q))
	assert.True(t, h.Merge(q2))

	require.Len(t, h.Quotes, 1)
	assert.Equal(t, q2, h.Quotes[0])
}

func TestMerge_KeepsAscendingOrder(t *testing.T) {
	h := NewQuoteHistory("MSFT")
	h.Merge(
		Quote{Date: day("2024-05-03"), Close: 3},
		Quote{Date: day("2024-05-01"), Close: 1},
	)
	h.Merge(Quote{Date: day("2024-05-02"), Close: 2})

	require.Len(t, h.Quotes, 3)
	for i, want := range []float64{1, 2, 3} {
		assert.Equal(t, want, h.Quotes[i].Close)
		assert.Equal(t, "MSFT", h.Quotes[i].Symbol)
	}
}

func TestMerge_SameValuesUnchanged(t *testing.T) {
	h := NewQuoteHistory("MSFT")
	q := Quote{Date: day("2024-05-01"), Close: 1}
	h.Merge(q)

	assert.False(t, h.Merge(q))
}

func TestMerge_HoistsName(t *testing.T) {
	h := NewQuoteHistory("MSFT")
	h.Merge(Quote{Date: day("2024-05-01"), Close: 1, Name: "Microsoft Corp"})

	assert.Equal(t, "Microsoft Corp", h.Name)
	assert.Empty(t, h.Quotes[0].Name)
}

func TestMerge_NormalisesDate(t *testing.T) {
	h := NewQuoteHistory("MSFT")
	h.Merge(Quote{Date: time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC), Close: 1})
	h.Merge(Quote{Date: day("2024-05-01"), Close: 2})

	require.Len(t, h.Quotes, 1)
	assert.Equal(t, 2.0, h.Quotes[0].Close)
}

func TestDedup(t *testing.T) {
	h := &QuoteHistory{
		Symbol: "MSFT",
		Quotes: []Quote{
			{Date: day("2024-05-02"), Close: 2},
			{Close: 99},
			{Date: day("2024-05-01"), Close: 1},
			{Date: day("2024-05-02"), Close: 22},
		},
	}

	removed := h.Dedup()

	assert.Equal(t, 2, removed)
	require.Len(t, h.Quotes, 2)
	assert.Equal(t, 1.0, h.Quotes[0].Close)
	assert.Equal(t, 2.0, h.Quotes[1].Close, "earlier duplicate is kept")
}

func TestFind(t *testing.T) {
	h := NewQuoteHistory("MSFT")
	h.Merge(Quote{Date: day("2024-05-01"), Close: 1}, Quote{Date: day("2024-05-03"), Close: 3})

	q, ok := h.Find(day("2024-05-03"))
	require.True(t, ok)
	assert.Equal(t, 3.0, q.Close)

	_, ok = h.Find(day("2024-05-02"))
	assert.False(t, ok)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 3.0, latest.Close)
}

// fullHistory has a quote on every trading day in the completeness window.
func fullHistory(cal *calendar.Calendar, today time.Time) *QuoteHistory {
	h := NewQuoteHistory("MSFT")
	start := Day(today).AddDate(0, -CompletenessMonths, 0)
	for d := start; d.Before(Day(today)); d = d.AddDate(0, 0, 1) {
		if cal.IsTradingDay(d) {
			h.Merge(Quote{Date: d, Close: 10})
		}
	}
	return h
}

func TestIsComplete(t *testing.T) {
	cal := calendar.New()
	today := day("2024-10-16")

	h := fullHistory(cal, today)
	missing, examined := h.MissingDays(cal, today)
	assert.Zero(t, missing)
	assert.Greater(t, examined, 60)
	assert.True(t, h.IsComplete(cal, today))

	// drop two trading days from the middle of the window
	h.Quotes = append(h.Quotes[:10], h.Quotes[12:]...)
	missing, _ = h.MissingDays(cal, today)
	assert.Equal(t, 2, missing)
	assert.False(t, h.IsComplete(cal, today))
}

func TestIsComplete_Empty(t *testing.T) {
	h := NewQuoteHistory("MSFT")
	assert.False(t, h.IsComplete(calendar.New(), day("2024-10-16")))
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("AEST", 10*60*60)
	got := Day(time.Date(2024, 5, 1, 23, 30, 0, 0, loc))
	assert.Equal(t, day("2024-05-01"), got)
}
