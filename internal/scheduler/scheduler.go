// Package scheduler runs due watches on a polling loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/signex/internal/runner"
	"github.com/kalambet/signex/internal/watch"
)

// WatchSource lists watches with their due state.
type WatchSource interface {
	Statuses(now time.Time) ([]watch.Status, error)
}

// WatchRunner executes one cycle.
type WatchRunner interface {
	Run(ctx context.Context, name string, opts runner.Options) (runner.Result, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Scheduler polls watch state and runs every active, due watch one at a
// time.
type Scheduler struct {
	watches WatchSource
	runner  WatchRunner
	poll    time.Duration
	clock   Clock
	logger  *slog.Logger
}

// New creates a Scheduler. If pollInterval is <= 0, it defaults to 5m.
func New(watches WatchSource, r WatchRunner, pollInterval time.Duration) *Scheduler {
	return NewWithClock(watches, r, pollInterval, realClock{})
}

// NewWithClock creates a Scheduler with a custom clock (for testing).
func NewWithClock(watches WatchSource, r WatchRunner, pollInterval time.Duration, clock Clock) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	return &Scheduler{
		watches: watches,
		runner:  r,
		poll:    pollInterval,
		clock:   clock,
		logger:  slog.Default(),
	}
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduler iteration failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.poll):
		}
	}
}

// RunOnce runs every watch that is active and due right now. A failing
// cycle is logged and does not stop the others. It returns the names of
// the watches whose cycle completed.
func (s *Scheduler) RunOnce(ctx context.Context) ([]string, error) {
	statuses, err := s.watches.Statuses(s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("listing watch states: %w", err)
	}

	var ran []string
	for _, st := range statuses {
		if st.Status != watch.StatusActive || !st.Due {
			continue
		}
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		res, err := s.runner.Run(ctx, st.Watch, runner.Options{})
		if err != nil {
			s.logger.Warn("scheduled cycle failed", "watch", st.Watch, "error", err)
			continue
		}
		s.logger.Info("scheduled cycle finished",
			"watch", st.Watch,
			"run_id", res.RunID,
			"inserted", res.InsertedItems,
			"sensor_errors", len(res.SensorErrors),
		)
		ran = append(ran, st.Watch)
	}
	return ran, nil
}
