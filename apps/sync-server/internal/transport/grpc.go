package transport

import (
	"log/slog"
	"net"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
)

// GRPCServer serves the standard health service and reflection
type GRPCServer struct {
	server *grpc.Server
	log    *slog.Logger
}

// NewGRPCServer creates a new gRPC server
func NewGRPCServer(cfg config.GRPCConfig, hs healthpb.HealthServer, log *slog.Logger) *GRPCServer {
	log = logger.OrDiscard(log).With("component", "grpc")

	recoveryOpt := grpc_recovery.WithRecoveryHandler(func(p interface{}) error {
		log.Error("grpc handler panicked", "panic", p)
		return status.Errorf(codes.Internal, "internal error")
	})

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_ctxtags.UnaryServerInterceptor(),
			grpc_recovery.UnaryServerInterceptor(recoveryOpt),
		)),
		grpc.ChainStreamInterceptor(grpc_middleware.ChainStreamServer(
			grpc_ctxtags.StreamServerInterceptor(),
			grpc_recovery.StreamServerInterceptor(recoveryOpt),
		)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    durationOr(cfg.KeepAliveTime, 30*time.Second),
			Timeout: durationOr(cfg.KeepAliveTimeout, 10*time.Second),
		}),
	}
	if cfg.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(cfg.MaxConcurrentStreams)))
	}

	server := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(server, hs)

	// Register reflection service for gRPC CLI and debugging
	reflection.Register(server)

	return &GRPCServer{server: server, log: log}
}

// Serve starts the gRPC server
func (s *GRPCServer) Serve(listener net.Listener) error {
	s.log.Info("starting grpc server", "address", listener.Addr().String())
	return s.server.Serve(listener)
}

// GracefulStop gracefully stops the server
func (s *GRPCServer) GracefulStop() {
	s.server.GracefulStop()
}

// Stop stops the server immediately
func (s *GRPCServer) Stop() {
	s.server.Stop()
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
