package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SweepFunc removes every entry of one collection that expired before now
// and reports how many were removed.
type SweepFunc func(ctx context.Context, now time.Time) (int, error)

type target struct {
	name  string
	sweep SweepFunc
}

// Sweeper purges expired entries across all registered collections, either on
// demand before a request or periodically in the background.
type Sweeper struct {
	now     func() time.Time
	minGap  time.Duration
	logger  *slog.Logger
	targets []target

	// OnSwept, when set, observes the removal count per collection
	OnSwept func(name string, removed int)

	mu   sync.Mutex
	last time.Time
}

// NewSweeper creates a sweeper. minGap throttles Opportunistic; zero sweeps every time.
func NewSweeper(now func() time.Time, minGap time.Duration, logger *slog.Logger) *Sweeper {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{now: now, minGap: minGap, logger: logger}
}

// Register adds a collection to sweep
func (s *Sweeper) Register(name string, fn SweepFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, target{name: name, sweep: fn})
}

// Sweep runs every registered collection once. A failing collection does not
// stop the others; all failures are returned joined.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	targets := append([]target(nil), s.targets...)
	s.last = s.now()
	s.mu.Unlock()

	now := s.now()
	total := 0
	var errs []error
	for _, t := range targets {
		n, err := t.sweep(ctx, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", t.name, err))
			continue
		}
		total += n
		if s.OnSwept != nil && n > 0 {
			s.OnSwept(t.name, n)
		}
		if n > 0 {
			s.logger.Debug("Swept expired entries", "collection", t.name, "removed", n)
		}
	}
	return total, errors.Join(errs...)
}

// Opportunistic sweeps unless the previous sweep is more recent than the
// configured gap. Failures are logged; the caller's request proceeds.
func (s *Sweeper) Opportunistic(ctx context.Context) {
	if s.minGap > 0 {
		s.mu.Lock()
		recent := !s.last.IsZero() && s.now().Sub(s.last) < s.minGap
		s.mu.Unlock()
		if recent {
			return
		}
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Warn("Opportunistic sweep failed", "error", err)
	}
}

// Run sweeps every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("Background sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("Background sweep complete", "removed", removed)
			}
		}
	}
}
