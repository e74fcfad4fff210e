package coordinator

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
)

// Backoff returns the wait before reconnect attempt n (n >= 1)
type Backoff interface {
	Delay(attempt int) time.Duration
}

// LinearBackoff waits Base × attempt
type LinearBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements Backoff
func (b LinearBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base * time.Duration(attempt)
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// ExponentialBackoff doubles from Base with jitter, capped at Max
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements Backoff
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Base
	if b.Max > 0 {
		eb.MaxInterval = b.Max
	}
	eb.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// NewBackoff builds the strategy named in the reconnect config
func NewBackoff(cfg config.ReconnectConfig) Backoff {
	if cfg.Strategy == config.StrategyLinear {
		return LinearBackoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay}
	}
	return ExponentialBackoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay}
}
