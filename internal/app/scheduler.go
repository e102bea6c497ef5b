package app

import (
	"context"
	"time"

	"github.com/bobmcallan/quotefeed/internal/common"
)

// quoteRefresher is the part of the quote manager the scheduler drives.
type quoteRefresher interface {
	UpdateQuotes() error
}

// startPriceScheduler refreshes every held symbol on a fixed interval.
func startPriceScheduler(ctx context.Context, quotes quoteRefresher, logger *common.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("Price scheduler: started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Price scheduler: stopped")
			return
		case <-ticker.C:
			refreshPrices(quotes, logger)
		}
	}
}

func refreshPrices(quotes quoteRefresher, logger *common.Logger) {
	start := time.Now()
	if err := quotes.UpdateQuotes(); err != nil {
		logger.Warn().Err(err).Msg("Price refresh: failed to queue quotes")
		return
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("Price refresh: queued")
}
