package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/auth"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/feedback"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/handler"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/hub"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/metrics"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/repository"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/repository/memory"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/repository/pebble"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/repository/redis"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/router"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/service"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/session"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/transport"
	"github.com/Harshitk-cp/broadcastsync/libs/health"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "sync-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	log.Info("starting sync server",
		"name", cfg.Service.Name, "version", cfg.Service.Version, "environment", cfg.Service.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheusCollector(reg)

	feedbackRepo, sessionRepo, err := openStores(cfg.Feedback)
	if err != nil {
		return err
	}
	defer feedbackRepo.Close()

	registry := session.NewRegistry(session.Options{
		HeartbeatInterval: cfg.Heartbeat.Interval,
		ReconnectAfter:    cfg.Heartbeat.ReconnectAfter,
		EvictAfter:        cfg.Heartbeat.EvictAfter,
		SweepInterval:     cfg.Heartbeat.SweepInterval,
		MaxAttempts:       cfg.Reconnect.MaxAttempts,
		Store:             sessionRepo,
		Logger:            log,
		Metrics:           collector,
	})

	var verifier *auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.Auth)
	}

	wsHub := hub.NewHub(cfg.WebSocket, nil, log)
	svc := service.New(service.Deps{
		Hub:      wsHub,
		Router:   router.New(log, collector),
		Registry: registry,
		Verifier: verifier,
		Limiter:  service.NewRateLimiter(cfg.RateLimit),
		Logger:   log,
		Metrics:  collector,
	})
	wsHub.SetHandler(svc)
	go wsHub.Run()
	go registry.Run(ctx)

	ingest := feedback.New(feedback.Options{
		Repository: feedbackRepo,
		CacheSize:  cfg.Feedback.CacheSize,
		Logger:     log,
		Metrics:    collector,
	})

	checker := health.NewChecker(cfg.Heartbeat.Interval)
	handler.RegisterHealthChecks(checker, wsHub, ingest)
	bridge := handler.NewHealthBridge(checker)
	checker.Start()
	defer checker.Stop()

	httpServer := transport.NewHTTPServer(cfg.HTTP, handler.NewHTTPHandler(handler.HTTPDeps{
		Service:       svc,
		Feedback:      ingest,
		Verifier:      verifier,
		Health:        checker.HTTPHandler(),
		WebSocket:     handler.NewWebSocketHandler(cfg, svc, wsHub, log),
		WebSocketPath: cfg.WebSocket.Path,
		Logger:        log,
		Metrics:       collector,
	}), log)
	grpcServer := transport.NewGRPCServer(cfg.GRPC, bridge.Server(), log)

	httpLis, err := net.Listen("tcp", cfg.HTTP.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.Address, err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPC.Address, err)
	}

	serveErr := make(chan error, 2)
	go func() { serveErr <- httpServer.Serve(httpLis) }()
	go func() { serveErr <- grpcServer.Serve(grpcLis) }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down servers")
	case runErr = <-serveErr:
		log.Error("server failed", "error", runErr)
	}

	shutdown(cfg, log, httpServer, grpcServer, bridge, wsHub, svc)
	log.Info("servers shutdown complete")
	return runErr
}

func shutdown(cfg *config.Config, log *slog.Logger, httpServer *transport.HTTPServer, grpcServer *transport.GRPCServer,
	bridge *handler.HealthBridge, wsHub *hub.Hub, svc *service.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	bridge.Shutdown()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}
	grpcServer.GracefulStop()

	// Closing the hub drops every socket; clients see an abrupt close and
	// reconnect elsewhere or give up on their own.
	wsHub.Close()
	svc.Close()
}

// openStores opens the configured feedback backend and, when it can hold
// them, a session store for operator listings
func openStores(cfg config.FeedbackConfig) (repository.FeedbackRepository, session.Store, error) {
	switch cfg.Backend {
	case config.BackendPebble:
		repo, err := pebble.Open(cfg.PebblePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open feedback store: %w", err)
		}
		return repo, nil, nil
	case config.BackendRedis:
		store := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		return store, store, nil
	case config.BackendMemory, "":
		return memory.NewFeedbackRepository(), memory.NewSessionRepository(), nil
	default:
		return nil, nil, errors.New("unknown feedback backend " + cfg.Backend)
	}
}
