// Package server exposes quote status, refresh and price lookups over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/bobmcallan/quotefeed/internal/app"
	"github.com/bobmcallan/quotefeed/internal/common"
)

// Server serves the quotefeed REST API for one App.
type Server struct {
	app          *app.App
	server       *http.Server
	logger       *common.Logger
	shutdownChan chan struct{}
}

// SetShutdownChannel sets the channel signalled by POST /api/shutdown.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// NewServer builds the server from the [server] config section.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:    a,
		logger: a.Logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	cfg := a.Config.Server
	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      applyMiddleware(mux, a.Logger),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  cfg.GetIdleTimeout(),
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens until Shutdown. It returns http.ErrServerClosed after a
// graceful stop.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Dur("read_timeout", s.server.ReadTimeout).
		Dur("write_timeout", s.server.WriteTimeout).
		Str("provider", s.app.Quotes.Status().Provider).
		Msg("Starting quote API server")
	return s.server.ListenAndServe()
}

// Shutdown cancels any running fetch session, then drains open requests
// within the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Quotes.Cancel()
	ctx, cancel := context.WithTimeout(ctx, s.app.Config.Server.GetShutdownTimeout())
	defer cancel()
	return s.server.Shutdown(ctx)
}
