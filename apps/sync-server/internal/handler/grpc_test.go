package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Harshitk-cp/broadcastsync/libs/health"
)

type fakeRelay struct{ running bool }

func (f *fakeRelay) Running() bool { return f.running }

type fakeStore struct{ err error }

func (f *fakeStore) Ping(context.Context) error { return f.err }

func check(t *testing.T, hs healthpb.HealthServer, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestHealthBridge(t *testing.T) {
	relay := &fakeRelay{running: true}
	store := &fakeStore{}

	checker := health.NewChecker(time.Hour)
	RegisterHealthChecks(checker, relay, store)
	bridge := NewHealthBridge(checker)
	hs := bridge.Server()

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, hs, ""))

	assert.Equal(t, health.StatusUp, checker.CheckNow(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, hs, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, hs, ComponentRelay))

	store.err = errors.New("connection refused")
	assert.Equal(t, health.StatusDegraded, checker.CheckNow(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, hs, ""), "degraded still serves")
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, hs, ComponentFeedbackStore))

	relay.running = false
	checker.CheckNow(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, hs, ComponentRelay))

	bridge.Shutdown()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, hs, ""))
}
