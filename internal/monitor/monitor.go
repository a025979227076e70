// Package monitor polls the remote views API for connectivity and usage.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notionviews/agent/internal/metrics"
	"github.com/notionviews/agent/internal/tracking"
)

// Config controls the polling loop.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Status is the last observed remote state, served by the control API.
type Status struct {
	Reachable bool                 `json:"reachable"`
	CheckedAt time.Time            `json:"checked_at"`
	Error     string               `json:"error,omitempty"`
	Stats     *tracking.UsageStats `json:"stats,omitempty"`
}

// Monitor periodically checks relay health and refreshes usage stats. The
// result is cached so status queries never block on the network.
type Monitor struct {
	cfg    Config
	relay  tracking.Relay
	clock  tracking.Clock
	logger *zap.Logger

	mu     sync.RWMutex
	status Status
}

// New constructs a Monitor.
func New(cfg Config, relay tracking.Relay, clock tracking.Clock, logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:    cfg,
		relay:  relay,
		clock:  clock,
		logger: logger,
	}
}

// Run polls until ctx is canceled. The first check happens immediately so
// the status endpoint has data as soon as the agent is up.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Refresh performs one health and stats round trip and caches the outcome.
func (m *Monitor) Refresh(ctx context.Context) Status {
	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	status := Status{CheckedAt: m.clock.Now()}
	if err := m.relay.Health(checkCtx); err != nil {
		status.Error = err.Error()
		m.logger.Debug("remote health check failed", zap.Error(err))
	} else {
		status.Reachable = true
		if stats, err := m.relay.Stats(checkCtx); err != nil {
			m.logger.Debug("usage stats fetch failed", zap.Error(err))
		} else {
			status.Stats = &stats
		}
	}
	metrics.SetRemoteReachable(status.Reachable)

	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
	return status
}

// Status returns the most recent poll result.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
