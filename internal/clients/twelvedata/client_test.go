package twelvedata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quotefeed/internal/clients/httpx"
	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	fixed := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	return NewClient("td-key",
		WithBaseURL(srv.URL),
		WithClock(func() time.Time { return fixed }),
		WithHTTPOptions(httpx.WithRateLimit(0)),
	)
}

func TestFetchQuote_ParsesStrings(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "MSFT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"MSFT","name":"Microsoft Corp","datetime":"2024-05-14",
			"open":"411.2","high":"416.7","low":"410.0","close":"416.56","volume":"15109300"}`))
	})

	q, err := client.FetchQuote(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "Microsoft Corp", q.Name)
	assert.Equal(t, 416.56, q.Close)
	assert.Equal(t, int64(15109300), q.Volume)
	assert.Equal(t, time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC), q.Date)
}

func TestFetchQuote_ErrorEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
		want common.ErrorKind
	}{
		{"unknown symbol", `{"code":404,"message":"**symbol** not found: ZZZZ","status":"error"}`, common.KindNotFound},
		{"bad key", `{"code":401,"message":"**apikey** parameter is incorrect","status":"error"}`, common.KindFatal},
		{"minute credits", `{"code":429,"message":"You have run out of API credits for the current minute.","status":"error"}`, common.KindRateLimited},
		{"daily credits", `{"code":429,"message":"You have run out of API credits for the day.","status":"error"}`, common.KindQuotaExceeded},
		{"server", `{"code":500,"message":"internal error","status":"error"}`, common.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := client.FetchQuote(context.Background(), "ZZZZ")
			assert.Equal(t, tt.want, common.KindOf(err))
		})
	}
}

func TestFetchHistory_TimeSeries(t *testing.T) {
	var startDate string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/time_series", r.URL.Path)
		assert.Equal(t, "1day", r.URL.Query().Get("interval"))
		startDate = r.URL.Query().Get("start_date")
		w.Write([]byte(`{"meta":{"symbol":"MSFT"},"status":"ok","values":[
			{"datetime":"2024-05-14","open":"1","high":"1","low":"1","close":"416.56","volume":"10"},
			{"datetime":"2024-05-13","open":"1","high":"1","low":"1","close":"413.72","volume":"10"}]}`))
	})

	h := models.NewQuoteHistory("MSFT")
	changed, err := client.FetchHistory(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, startDate)
	require.Len(t, h.Quotes, 2)
	assert.Equal(t, 413.72, h.Quotes[0].Close)

	changed, err = client.FetchHistory(context.Background(), h)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "2024-05-14", startDate)
}
