package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bobmcallan/quotefeed/internal/clients"
	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/services/fetcher"
	"github.com/bobmcallan/quotefeed/internal/services/quotemanager"
)

func TestSymbolFromPath(t *testing.T) {
	tests := []struct {
		path   string
		want   string
		wantOK bool
	}{
		{"/api/history/AAPL", "AAPL", true},
		{"/api/history/brk.b", "BRK.B", true},
		{"/api/history/EUR%2FUSD", "EUR/USD", true},
		{"/api/history/EUR/USD/", "EUR/USD", true},
		{"/api/history/%5EGSPC", "^GSPC", true},
		{"/api/history/", "", false},
		{"/api/history/A%20B", "A B", false},
		{"/api/other/AAPL", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, tt.path, nil)
		got, ok := SymbolFromPath(r, "/api/history/")
		assert.Equal(t, tt.wantOK, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no provider", quotemanager.ErrNoProvider, http.StatusServiceUnavailable, CodeNoProvider},
		{"disabled", fmt.Errorf("AlphaVantage: %w", fetcher.ErrProviderDisabled), http.StatusServiceUnavailable, CodeProviderDisabled},
		{"no history", fetcher.ErrHistoryNotSupported, http.StatusNotImplemented, CodeHistoryNotSupported},
		{"unknown provider", fmt.Errorf("%w %q", clients.ErrUnknownProvider, "bloomberg"), http.StatusBadRequest, CodeUnknownProvider},
		{"illegal", common.NewIllegalSymbolError("Yahoo", "A B"), http.StatusBadRequest, CodeInvalidSymbol},
		{"not found", common.NewNotFoundError("Yahoo", "GONE", "no data"), http.StatusNotFound, CodeSymbolNotFound},
		{"minute", common.NewRateLimitError("AlphaVantage", "IBM", "5 calls per minute"), http.StatusTooManyRequests, CodeRateLimited},
		{"quota", common.NewQuotaError("AlphaVantage", "IBM", common.ScopeDay, "25 per day"), http.StatusTooManyRequests, CodeQuotaExceeded},
		{"fatal", common.NewFatalError("EODHD", "IBM", "unauthorized"), http.StatusBadGateway, CodeProviderFailed},
		{"transient", common.NewTransientError("EODHD", "IBM", "timeout", nil), http.StatusBadGateway, CodeProviderFailed},
		{"other", errors.New("disk full"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteServiceError_CarriesProviderAndSymbol(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteServiceError(rr, fmt.Errorf("refresh: %w", common.NewQuotaError("AlphaVantage", "IBM", common.ScopeDay, "25 per day")))

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	body := decodeError(t, rr)
	assert.Equal(t, CodeQuotaExceeded, body.Code)
	assert.Equal(t, "AlphaVantage", body.Provider)
	assert.Equal(t, "IBM", body.Symbol)
}

func TestRequireMethod(t *testing.T) {
	rr := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodDelete, "/api/quotes/refresh", nil)

	assert.False(t, RequireMethod(rr, r, http.MethodPost))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "POST", rr.Header().Get("Allow"))
	assert.Equal(t, CodeMethodNotAllowed, decodeError(t, rr).Code)
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"name":"TwelveData"}`, true},
		{"truncated", `{`, false},
		{"unknown field", `{"name":"x","limit":5}`, false},
		{"empty", ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/quotes/provider", strings.NewReader(tt.body))

			var v struct {
				Name string `json:"name"`
			}
			assert.Equal(t, tt.ok, DecodeJSON(rr, r, &v))
			if !tt.ok {
				assert.Equal(t, http.StatusBadRequest, rr.Code)
				assert.Equal(t, CodeBadRequest, decodeError(t, rr).Code)
			}
		})
	}
}
