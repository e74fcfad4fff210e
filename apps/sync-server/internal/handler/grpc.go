package handler

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	libhealth "github.com/Harshitk-cp/broadcastsync/libs/health"
)

// HealthBridge mirrors checker results into the standard gRPC health
// service. The empty service name carries the overall status, each
// component is served under its own name.
type HealthBridge struct {
	server *health.Server
}

// NewHealthBridge creates the gRPC health server and subscribes it to checker
func NewHealthBridge(checker *libhealth.Checker) *HealthBridge {
	b := &HealthBridge{server: health.NewServer()}
	b.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	checker.OnChange(b.update)
	return b
}

// Server returns the health service to register on a gRPC server
func (b *HealthBridge) Server() healthpb.HealthServer {
	return b.server
}

// Shutdown marks every service not serving
func (b *HealthBridge) Shutdown() {
	b.server.Shutdown()
}

func (b *HealthBridge) update(overall libhealth.Status, components []libhealth.Component) {
	b.server.SetServingStatus("", servingStatus(overall))
	for _, c := range components {
		b.server.SetServingStatus(c.Name, servingStatus(c.Status))
	}
}

// servingStatus treats degraded as serving: relay traffic still flows
func servingStatus(s libhealth.Status) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case libhealth.StatusUp, libhealth.StatusDegraded:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}
