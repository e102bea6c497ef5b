// Package interfaces defines service contracts for quotefeed
package interfaces

import (
	"context"

	"github.com/bobmcallan/quotefeed/internal/models"
)

// QuoteProvider is one external quote service. Implementations return
// *common.FetchError for every provider failure so callers can route on kind.
//
//go:generate mockgen -package=fetcher -destination=../services/fetcher/mock_provider_test.go -source=clients.go QuoteProvider
type QuoteProvider interface {
	// Name is the provider's friendly name; it also keys its throttle file.
	Name() string
	// WebAddress is the provider's public home page.
	WebAddress() string
	SupportsHistory() bool

	FetchQuote(ctx context.Context, symbol string) (*models.Quote, error)

	// FetchHistory downloads what daily history the service allows and merges
	// it into h. Returns true if h changed.
	FetchHistory(ctx context.Context, h *models.QuoteHistory) (bool, error)
}

// CallGate paces provider HTTP calls. Wait blocks until a call is allowed,
// RecordCall counts an attempted call.
type CallGate interface {
	Wait(ctx context.Context) error
	RecordCall()
}
