package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/bobmcallan/quotefeed/internal/clients"
	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/models"
	"github.com/bobmcallan/quotefeed/internal/services/fetcher"
	"github.com/bobmcallan/quotefeed/internal/services/quotemanager"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeBadRequest          = "bad_request"
	CodeMethodNotAllowed    = "method_not_allowed"
	CodeInvalidSymbol       = "invalid_symbol"
	CodeNoHistory           = "no_history"
	CodeNoProvider          = "no_provider"
	CodeUnknownProvider     = "unknown_provider"
	CodeProviderDisabled    = "provider_disabled"
	CodeHistoryNotSupported = "history_not_supported"
	CodeSymbolNotFound      = "symbol_not_found"
	CodeRateLimited         = "rate_limited"
	CodeQuotaExceeded       = "quota_exceeded"
	CodeProviderFailed      = "provider_failed"
	CodeInternal            = "internal_error"
)

// ErrorResponse is the error body of every failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Provider string `json:"provider,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes an error body with an explicit code.
func WriteError(w http.ResponseWriter, statusCode int, message, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// WriteServiceError maps err onto a status and code. Fetch failures keep
// their provider and symbol so clients can tell which call failed.
func WriteServiceError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	var fe *common.FetchError
	if errors.As(err, &fe) {
		resp.Provider = fe.Provider
		resp.Symbol = fe.Symbol
	}
	WriteJSON(w, status, resp)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, quotemanager.ErrNoProvider):
		return http.StatusServiceUnavailable, CodeNoProvider
	case errors.Is(err, fetcher.ErrProviderDisabled):
		return http.StatusServiceUnavailable, CodeProviderDisabled
	case errors.Is(err, fetcher.ErrHistoryNotSupported):
		return http.StatusNotImplemented, CodeHistoryNotSupported
	case errors.Is(err, clients.ErrUnknownProvider):
		return http.StatusBadRequest, CodeUnknownProvider
	}

	switch common.KindOf(err) {
	case common.KindIllegalSymbol:
		return http.StatusBadRequest, CodeInvalidSymbol
	case common.KindNotFound:
		return http.StatusNotFound, CodeSymbolNotFound
	case common.KindRateLimited:
		return http.StatusTooManyRequests, CodeRateLimited
	case common.KindQuotaExceeded:
		return http.StatusTooManyRequests, CodeQuotaExceeded
	case common.KindFatal, common.KindTransient:
		return http.StatusBadGateway, CodeProviderFailed
	}
	return http.StatusInternalServerError, CodeInternal
}

// RequireMethod reports whether r uses one of methods, writing a 405 with
// an Allow header when it does not.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", CodeMethodNotAllowed)
	return false
}

// DecodeJSON decodes a small JSON body into v, rejecting unknown fields.
// It writes a 400 and returns false on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.Body == http.NoBody {
		WriteError(w, http.StatusBadRequest, "Request body is required", CodeBadRequest)
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error(), CodeBadRequest)
		return false
	}
	return true
}

// SymbolFromPath returns the normalized symbol that follows prefix in the
// request path. The remainder is unescaped as a whole, so "EUR%2FUSD"
// yields "EUR/USD". ok is false for an illegal symbol.
func SymbolFromPath(r *http.Request, prefix string) (symbol string, ok bool) {
	path := r.URL.EscapedPath()
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	raw, err := url.PathUnescape(strings.TrimSuffix(path[len(prefix):], "/"))
	if err != nil {
		return "", false
	}
	symbol = models.NormalizeSymbol(raw)
	return symbol, models.IsLegalSymbol(symbol)
}
