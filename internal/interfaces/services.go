package interfaces

import (
	"time"

	"github.com/bobmcallan/quotefeed/internal/models"
)

// Portfolio is the ledger collaborator the quote subsystem watches.
type Portfolio interface {
	// Securities returns a snapshot of every held security.
	Securities() []models.Security
	Security(symbol string) (models.Security, bool)
	// Transactions returns the ledger trades for symbol in date order.
	Transactions(symbol string) []models.Transaction

	// UpdateSecurity applies fn to the stored security and notifies a
	// Changed event. Returns false if the symbol is not held.
	UpdateSecurity(symbol string, fn func(sec *models.Security)) bool

	// BeginUpdate and EndUpdate bracket a bulk change; notifications are
	// held until the outermost EndUpdate.
	BeginUpdate()
	EndUpdate()

	// Subscribe registers fn for change notifications. The returned func
	// unsubscribes and is safe to call more than once.
	Subscribe(fn func(models.ChangeEvent)) (unsubscribe func())
}

// PriceIndex answers point-in-time price lookups without blocking on I/O
// beyond a one-off history load per security.
type PriceIndex interface {
	GetPrice(date time.Time, symbol string) float64
	Invalidate(symbol string)
	BeginBatch()
	EndBatch()
}
