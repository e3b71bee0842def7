package worker

import (
	"context"
	"errors"
	"time"

	"seasonbook/internal/domain"
	"seasonbook/internal/repository"
	"seasonbook/internal/workflow"

	"github.com/rs/zerolog"
)

const sweepLockKey = "sweeps:all"

// Sweeper runs the batch status sweeps once.
type Sweeper interface {
	RunSweeps(ctx context.Context) ([]*workflow.SweepResult, error)
}

// Scheduler triggers the sweeps on a fixed interval. With a shared locker only one
// instance sweeps at a time.
type Scheduler struct {
	sweeper  Sweeper
	locker   domain.ResourceLocker
	interval time.Duration
	logger   zerolog.Logger
}

func NewScheduler(sweeper Sweeper, locker domain.ResourceLocker, interval time.Duration, logger *zerolog.Logger) *Scheduler {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "scheduler").Logger()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{sweeper: sweeper, locker: locker, interval: interval, logger: l}
}

// Start runs the sweeps immediately and then on every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("sweep run failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce runs every sweep under the sweep lock. A busy lock skips the run.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, []string{sweepLockKey})
		if err != nil {
			if errors.Is(err, repository.ErrLockTimeout) {
				s.logger.Debug().Msg("sweeps already running elsewhere")
				return nil
			}
			return err
		}
		defer unlock()
	}

	results, err := s.sweeper.RunSweeps(ctx)
	for _, r := range results {
		if r.Failed > 0 {
			s.logger.Warn().Str("sweep", r.Sweep).Int("failed", r.Failed).Msg("sweep finished with failures")
		}
	}
	return err
}
