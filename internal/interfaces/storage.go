package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/quotefeed/internal/models"
)

// HistoryStore persists one quote history per symbol.
type HistoryStore interface {
	// Load returns the stored history, or an empty one if none exists.
	Load(ctx context.Context, symbol string) (*models.QuoteHistory, error)
	Save(ctx context.Context, h *models.QuoteHistory) error
	// Delete is the explicit reset; histories are never removed otherwise.
	Delete(ctx context.Context, symbol string) error
	Symbols(ctx context.Context) ([]string, error)

	DownloadLog() DownloadLog
	Close() error
}

// DownloadLog records which symbols have had history downloaded and when.
type DownloadLog interface {
	LastDownloaded(ctx context.Context, symbol string) (time.Time, bool, error)
	MarkDownloaded(ctx context.Context, symbol string, at time.Time) error
	Entries(ctx context.Context) ([]models.DownloadRecord, error)
}
