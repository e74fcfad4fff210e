package handler

import (
	"context"

	"github.com/Harshitk-cp/broadcastsync/libs/health"
)

// Health component names
const (
	ComponentRelay         = "relay"
	ComponentFeedbackStore = "feedback-store"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Liveness reports whether the relay loop is running
type Liveness interface {
	Running() bool
}

// RegisterHealthChecks registers the server's components with checker
func RegisterHealthChecks(checker *health.Checker, relay Liveness, store Pinger) {
	checker.RegisterComponent(ComponentRelay, func(ctx context.Context) (health.Status, error) {
		if !relay.Running() {
			return health.StatusDown, nil
		}
		return health.StatusUp, nil
	})

	// A missing feedback store degrades the server; sync keeps working
	checker.RegisterComponent(ComponentFeedbackStore, func(ctx context.Context) (health.Status, error) {
		if err := store.Ping(ctx); err != nil {
			return health.StatusDegraded, err
		}
		return health.StatusUp, nil
	})
}
