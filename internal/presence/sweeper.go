// ABOUTME: Background sweeper that prunes idle entries from connection registries
// ABOUTME: Runs on a fixed interval until its context is cancelled

package presence

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultSweepInterval is how often registries are swept.
	DefaultSweepInterval = 12 * time.Hour

	// DefaultMaxIdle is how long an entry may go without activity.
	DefaultMaxIdle = 12 * time.Hour
)

// Sweeper periodically calls Sweep on a fixed set of registries.
type Sweeper struct {
	registries []*Registry
	interval   time.Duration
	maxIdle    time.Duration
	logger     *slog.Logger
}

// NewSweeper creates a sweeper over registries. Zero durations fall back to
// DefaultSweepInterval and DefaultMaxIdle. Pass nil logger for default.
func NewSweeper(interval, maxIdle time.Duration, logger *slog.Logger, registries ...*Registry) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		registries: registries,
		interval:   interval,
		maxIdle:    maxIdle,
		logger:     logger.With("component", "sweeper"),
	}
}

// Run blocks, sweeping every interval, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started", "interval", s.interval, "max_idle", s.maxIdle)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce sweeps every registry once and returns the total entries removed.
func (s *Sweeper) SweepOnce() int {
	total := 0
	for _, r := range s.registries {
		removed := r.Sweep(s.maxIdle)
		if removed > 0 {
			s.logger.Info("swept idle channels", "registry", r.Name(), "removed", removed)
		}
		total += removed
	}
	return total
}
