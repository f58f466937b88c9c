package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"rentalcore/internal/database"
	"rentalcore/internal/domain"
	"rentalcore/internal/metrics"
	"rentalcore/internal/models"

	"github.com/rs/zerolog"
)

// Coverage splits a rental between the subscription and the customer.
type Coverage struct {
	CoveredHours   float64 `json:"covered_hours"`
	ExtraHours     float64 `json:"extra_hours"`
	CoverageRatio  float64 `json:"coverage_ratio"`
	CoverageAmount float64 `json:"coverage_amount"`
	ExtraAmount    float64 `json:"extra_amount"`
}

// CalculateCoverage is how much of requested hours and base amount the
// available hours pay for.
func CalculateCoverage(available, requested, base float64) Coverage {
	covered := math.Max(math.Min(available, requested), 0)

	var ratio float64
	if requested > 0 {
		ratio = covered / requested
	}
	amount := models.RoundWhole(base * ratio)

	return Coverage{
		CoveredHours:   covered,
		ExtraHours:     math.Max(requested-covered, 0),
		CoverageRatio:  ratio,
		CoverageAmount: amount,
		ExtraAmount:    math.Max(base-amount, 0),
	}
}

type ReserveRequest struct {
	UserID int64 `json:"user_id"`
	// SubscriptionID picks a specific plan; zero means the user's active one.
	SubscriptionID int64   `json:"subscription_id,omitempty"`
	BaseAmount     float64 `json:"base_amount"`
	RequestedHours float64 `json:"requested_hours"`
}

// Reservation is hours taken from a subscription. A zero CoveredHours
// reservation touched nothing.
type Reservation struct {
	SubscriptionID int64 `json:"subscription_id"`
	Coverage
	Attempts int `json:"attempts"`
}

type ReservationService struct {
	repo         domain.SubscriptionRepository
	maxAttempts  int
	historyLimit int
	logger       *zerolog.Logger
}

func NewReservationService(repo domain.SubscriptionRepository, maxAttempts, historyLimit int, logger *zerolog.Logger) *ReservationService {
	switch {
	case maxAttempts <= 0:
		maxAttempts = models.DefaultReservationAttempts
	case maxAttempts > models.MaxReservationAttempts:
		maxAttempts = models.MaxReservationAttempts
	}
	if historyLimit <= 0 {
		historyLimit = models.DefaultUsageHistoryLimit
	}
	return &ReservationService{
		repo:         repo,
		maxAttempts:  maxAttempts,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Quote computes coverage against the subscription's current balance without reserving.
func (s *ReservationService) Quote(ctx context.Context, subscriptionID int64, requestedHours, base float64, now time.Time) (Coverage, error) {
	if requestedHours <= 0 {
		return Coverage{}, domain.ErrInvalidHours
	}
	sub, err := s.load(ctx, ReserveRequest{SubscriptionID: subscriptionID}, now)
	if err != nil {
		return Coverage{}, err
	}
	return CalculateCoverage(sub.RemainingRentalHours, requestedHours, base), nil
}

// Reserve takes hours from the subscription with a conditional update,
// retrying against a fresh balance when a concurrent reservation wins.
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest, now time.Time) (Reservation, error) {
	if req.RequestedHours <= 0 {
		return Reservation{}, domain.ErrInvalidHours
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		sub, err := s.load(ctx, req, now)
		if err != nil {
			metrics.IncReservation("rejected")
			return Reservation{}, err
		}

		cov := CalculateCoverage(sub.RemainingRentalHours, req.RequestedHours, req.BaseAmount)
		res := Reservation{SubscriptionID: sub.ID, Coverage: cov, Attempts: attempt}
		if cov.CoveredHours <= 0 {
			metrics.IncReservation("uncovered")
			return res, nil
		}

		ok, err := s.repo.ReserveHours(ctx, sub.ID, cov.CoveredHours, now)
		if err != nil {
			return Reservation{}, fmt.Errorf("reserve hours: %w", err)
		}
		if ok {
			metrics.IncReservation("reserved")
			s.logger.Debug().
				Int64("subscription_id", sub.ID).
				Float64("hours", cov.CoveredHours).
				Int("attempt", attempt).
				Msg("subscription hours reserved")
			return res, nil
		}

		s.logger.Debug().
			Int64("subscription_id", sub.ID).
			Int("attempt", attempt).
			Msg("reservation lost a race, reloading balance")
	}

	metrics.IncReservationConflict()
	return Reservation{}, fmt.Errorf("%w: gave up after %d attempts", domain.ErrReservationConflict, s.maxAttempts)
}

// Rollback returns reserved hours after the booking that took them failed.
func (s *ReservationService) Rollback(ctx context.Context, r Reservation) error {
	if r.CoveredHours <= 0 {
		return nil
	}
	if err := s.repo.RestoreHours(ctx, r.SubscriptionID, r.CoveredHours); err != nil {
		return storeErr(err, nil)
	}
	metrics.IncReservation("rolled_back")
	return nil
}

// RecordUsage appends the reservation to the subscription's bounded history.
func (s *ReservationService) RecordUsage(ctx context.Context, r Reservation, bookingID int64, charged float64, now time.Time) error {
	if r.SubscriptionID == 0 {
		return nil
	}
	entry := models.UsageEntry{
		BookingID:     bookingID,
		HoursUsed:     r.CoveredHours,
		AmountCovered: r.CoverageAmount,
		AmountCharged: charged,
		RecordedAt:    now,
	}
	return storeErr(s.repo.AppendUsage(ctx, r.SubscriptionID, entry, s.historyLimit), nil)
}

func (s *ReservationService) load(ctx context.Context, req ReserveRequest, now time.Time) (*models.UserSubscription, error) {
	var (
		sub *models.UserSubscription
		err error
	)
	if req.SubscriptionID != 0 {
		sub, err = s.repo.GetSubscription(ctx, req.SubscriptionID)
	} else {
		sub, err = s.repo.GetActiveSubscriptionByUser(ctx, req.UserID, now)
		if errors.Is(err, database.ErrSubscriptionNotFound) {
			return nil, domain.ErrNoActiveSubscription
		}
	}
	if err != nil {
		return nil, storeErr(err, nil)
	}

	if req.UserID != 0 && sub.UserID != req.UserID {
		return nil, domain.ErrSubscriptionNotFound
	}
	if !sub.IsUsableAt(now) {
		return nil, domain.Validationf(domain.ErrNoActiveSubscription, "subscription %d is %s/%s", sub.ID, sub.Status, sub.PaymentStatus)
	}
	return sub, nil
}
