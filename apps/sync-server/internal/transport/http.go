package transport

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
)

// HTTPServer represents an HTTP server
type HTTPServer struct {
	server *http.Server
	log    *slog.Logger
}

// NewHTTPServer creates a new HTTP server. Write timeouts do not apply to
// hijacked websocket connections.
func NewHTTPServer(cfg config.HTTPConfig, handler http.Handler, log *slog.Logger) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              cfg.Address,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		},
		log: logger.OrDiscard(log).With("component", "http"),
	}
}

// Serve serves HTTP on listener until Shutdown
func (s *HTTPServer) Serve(listener net.Listener) error {
	s.log.Info("starting http server", "address", listener.Addr().String())
	if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
