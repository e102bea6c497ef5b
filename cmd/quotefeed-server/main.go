package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bobmcallan/quotefeed/internal/app"
	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/server"
)

func main() {
	a, err := app.NewApp(os.Getenv("QUOTEFEED_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(a.Config, a.Logger)

	if err := run(a); err != nil {
		a.Logger.Error().Err(err).Msg("Server failed")
		a.Close()
		os.Exit(1)
	}
	a.Close()
	a.Logger.Info().Msg("Server stopped")
}

// run serves until a signal, a POST /api/shutdown or a listener failure.
func run(a *app.App) error {
	// Initial refresh, then the scheduler takes over.
	if err := a.Quotes.UpdateQuotes(); err != nil {
		a.Logger.Warn().Err(err).Msg("Initial quote refresh skipped")
	}
	a.StartPriceScheduler()

	srv := server.NewServer(a)
	shutdownChan := make(chan struct{}, 1)
	srv.SetShutdownChannel(shutdownChan)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()
	a.Logger.Info().Str("url", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)).Msg("Server ready")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		a.Logger.Info().Msg("Shutdown signal received")
	case <-shutdownChan:
	}

	common.PrintShutdownBanner(a.Logger)
	if err := srv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
