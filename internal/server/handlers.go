package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/quotefeed/internal/clients"
	"github.com/bobmcallan/quotefeed/internal/models"
)

// --- Quote handlers ---

func (s *Server) handleQuoteStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, s.app.Quotes.Status())
}

func (s *Server) handleQuoteRefresh(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.app.Quotes.UpdateQuotes(); err != nil {
		s.logger.Warn().Err(err).Msg("Quote refresh rejected")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, s.app.Quotes.Status())
}

func (s *Server) handleQuoteProvider(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}

	settings, err := clients.SettingsFromConfig(req.Name, s.app.Config)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if err := s.app.Quotes.SetProvider(settings); err != nil {
		WriteServiceError(w, fmt.Errorf("switching provider: %w", err))
		return
	}

	s.logger.Info().Str("provider", settings.Name).Msg("Quote provider switched via HTTP endpoint")
	WriteJSON(w, http.StatusOK, s.app.Quotes.Status())
}

// handlePrice handles GET /api/price?symbol=AAPL&date=2024-05-10. The date
// defaults to today.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	symbol := models.NormalizeSymbol(r.URL.Query().Get("symbol"))
	if !models.IsLegalSymbol(symbol) {
		WriteError(w, http.StatusBadRequest, "symbol is required and must be a valid ticker", CodeInvalidSymbol)
		return
	}

	date := time.Now()
	if ds := strings.TrimSpace(r.URL.Query().Get("date")); ds != "" {
		d, err := time.Parse("2006-01-02", ds)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD", CodeBadRequest)
			return
		}
		date = d
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"date":   models.Day(date).Format("2006-01-02"),
		"price":  s.app.PriceIndex.GetPrice(date, symbol),
	})
}

// handleHistory handles GET /api/history/{symbol}.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	symbol, ok := SymbolFromPath(r, "/api/history/")
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid symbol", CodeInvalidSymbol)
		return
	}

	h, err := s.app.Histories.Load(r.Context(), symbol)
	if err != nil {
		WriteServiceError(w, fmt.Errorf("loading history: %w", err))
		return
	}
	if len(h.Quotes) == 0 && !h.NotFound {
		WriteError(w, http.StatusNotFound, "No history for "+symbol, CodeNoHistory)
		return
	}

	WriteJSON(w, http.StatusOK, h)
}
