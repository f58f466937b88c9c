package worker

import (
	"context"
	"time"

	"rentalcore/internal/config"
	"rentalcore/internal/service"

	"github.com/rs/zerolog"
)

// StageSweeper periodically re-evaluates the stage of unfinished bookings so
// overdue bookings accrue late fees without anyone reading them.
type StageSweeper struct {
	stages   *service.StageService
	interval time.Duration
	batch    int
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewStageSweeper(stages *service.StageService, cfg config.LifecycleConfig, logger *zerolog.Logger) *StageSweeper {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := cfg.SweepBatch
	if batch <= 0 {
		batch = 200
	}
	return &StageSweeper{
		stages:   stages,
		interval: interval,
		batch:    batch,
		now:      time.Now,
		logger:   logger,
	}
}

// Start blocks until ctx is done, sweeping once immediately and then on every tick.
func (s *StageSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps a single batch and returns how many bookings changed.
func (s *StageSweeper) RunOnce(ctx context.Context) int {
	start := s.now()
	updated, err := s.stages.Sweep(ctx, start, s.batch)
	if err != nil {
		s.logger.Error().Err(err).Msg("stage sweep failed")
		return updated
	}
	if updated > 0 {
		s.logger.Info().Int("updated", updated).Dur("took", time.Since(start)).Msg("stage sweep finished")
	}
	return updated
}
