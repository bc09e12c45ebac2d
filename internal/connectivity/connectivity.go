// Package connectivity provides the online/offline signal the sync worker
// consults before each pass.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"agility-sync/internal/metrics"
)

// Static is a fixed connectivity signal
type Static bool

// Online implements the worker's connectivity signal
func (s Static) Online(ctx context.Context) bool {
	return bool(s)
}

// Pinger is anything that can prove the remote store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe reports online when a reachability ping succeeds within timeout
type Probe struct {
	pinger  Pinger
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	known bool
	last  bool
}

// NewProbe creates a probe around pinger
func NewProbe(pinger Pinger, timeout time.Duration, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{
		pinger:  pinger,
		timeout: timeout,
		logger:  logger,
	}
}

// Online pings the remote store and logs transitions between states
func (p *Probe) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	online := err == nil

	p.mu.Lock()
	changed := !p.known || p.last != online
	p.known = true
	p.last = online
	p.mu.Unlock()

	if online {
		metrics.Online.Set(1)
	} else {
		metrics.Online.Set(0)
	}

	if changed {
		if online {
			p.logger.Info("remote store reachable")
		} else {
			p.logger.Info("remote store unreachable", zap.Error(err))
		}
	}
	return online
}
