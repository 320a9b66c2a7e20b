// Package jobs schedules the background maintenance work: cooldown
// sweeps, autoplay pool refreshes and play-history retention.
package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-co-op/gocron/v2"
	zlog "github.com/rs/zerolog/log"
)

const taskTimeout = 2 * time.Minute

// AutoplayMaintainer covers the autoplay manager's periodic upkeep.
type AutoplayMaintainer interface {
	SweepCooldowns()
	RefreshPools(ctx context.Context)
}

// HistoryPruner deletes play-history rows older than a point in time.
type HistoryPruner interface {
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// Config holds the maintenance intervals.
type Config struct {
	CooldownSweep    time.Duration
	PoolRefresh      time.Duration
	HistoryPrune     time.Duration
	HistoryRetention time.Duration
}

// Runner owns the scheduler lifecycle.
type Runner struct {
	scheduler gocron.Scheduler
}

// Start registers the maintenance jobs and starts the scheduler.
// Nil dependencies skip their jobs.
func Start(cfg Config, autoplay AutoplayMaintainer, history HistoryPruner) (*Runner, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scheduler")
	}

	if autoplay != nil {
		_, err = s.NewJob(
			gocron.DurationJob(cfg.CooldownSweep),
			gocron.NewTask(autoplay.SweepCooldowns),
			gocron.WithName("cooldown-sweep"),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to schedule cooldown sweep")
		}

		_, err = s.NewJob(
			gocron.DurationJob(cfg.PoolRefresh),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
				defer cancel()
				autoplay.RefreshPools(ctx)
			}),
			gocron.WithName("pool-refresh"),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to schedule pool refresh")
		}
	}

	if history != nil {
		_, err = s.NewJob(
			gocron.DurationJob(cfg.HistoryPrune),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
				defer cancel()
				cutoff := time.Now().Add(-cfg.HistoryRetention)
				rows, err := history.PruneHistory(ctx, cutoff)
				if err != nil {
					zlog.Warn().Msgf("jobs: history prune failed: error=%v", err)
					return
				}
				if rows > 0 {
					zlog.Info().Msgf("jobs: history prune: rows=%d cutoff=%s", rows, cutoff.Format(time.RFC3339))
				}
			}),
			gocron.WithName("history-prune"),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to schedule history prune")
		}
	}

	s.Start()
	zlog.Info().Msgf("jobs: scheduler started: jobs=%d", len(s.Jobs()))

	return &Runner{scheduler: s}, nil
}

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (r *Runner) Stop() error {
	return r.scheduler.Shutdown()
}
