package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rentalcore/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLeaseRepository uses primary until it errors, then serves from
// fallback and probes primary again once per recoveryInterval.
type FailoverLeaseRepository struct {
	primary  domain.LeaseRepository
	fallback domain.LeaseRepository
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverLeaseRepository(primary, fallback domain.LeaseRepository, logger *zerolog.Logger) *FailoverLeaseRepository {
	return &FailoverLeaseRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverLeaseRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary lease repository failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
}

func (r *FailoverLeaseRepository) shouldProbe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Sub(r.lastCheck) > recoveryInterval
}

func (r *FailoverLeaseRepository) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if !r.isDown.Load() || r.shouldProbe() {
		ok, err := r.primary.Acquire(ctx, key, owner, ttl)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary lease repository recovered")
			}
			return ok, nil
		}
		r.markDown(err)
	}

	return r.fallback.Acquire(ctx, key, owner, ttl)
}

// Release clears the lease wherever it may have been taken.
func (r *FailoverLeaseRepository) Release(ctx context.Context, key, owner string) error {
	if !r.isDown.Load() {
		if err := r.primary.Release(ctx, key, owner); err != nil {
			r.markDown(err)
		}
	}
	return r.fallback.Release(ctx, key, owner)
}
