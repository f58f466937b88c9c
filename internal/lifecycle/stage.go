// Package lifecycle computes where a rental stands at a given moment and
// what it owes in late fees. Everything here is pure; callers persist.
package lifecycle

import (
	"math"
	"time"

	"rentalcore/internal/models"
)

// Snapshot is the part of a booking the stage engine reads.
type Snapshot struct {
	PickupAt         time.Time
	DropAt           time.Time
	GracePeriodHours float64

	Stage      models.RentalStage
	Completed  bool
	Settled    bool
	ReturnedAt *time.Time

	PerDayPrice     float64
	HourlyLateRate  float64
	LateHours       int64
	LateFee         float64
	FinalAmount     float64
	AdvancePaid     float64
	RemainingAmount float64
}

// Result is the engine output for one evaluation.
type Result struct {
	Stage           models.RentalStage
	HourlyLateRate  float64
	LateHours       int64
	LateFee         float64
	RemainingAmount float64
}

// SnapshotOf builds a snapshot from a stored booking.
func SnapshotOf(b *models.Booking) Snapshot {
	return Snapshot{
		PickupAt:         b.PickupAt,
		DropAt:           b.DropAt,
		GracePeriodHours: b.GracePeriodHours,
		Stage:            b.RentalStage,
		Completed:        b.HasCompletionSignal(),
		Settled:          b.IsSettled(),
		ReturnedAt:       b.ReturnedAt,
		PerDayPrice:      b.PerDayPrice,
		HourlyLateRate:   b.HourlyLateRate,
		LateHours:        b.LateHours,
		LateFee:          b.LateFee,
		FinalAmount:      b.ResolveFinalAmount(),
		AdvancePaid:      b.ResolveAdvancePaid(),
		RemainingAmount:  b.RemainingAmount,
	}
}

// OverdueAfter is drop time plus grace; the rental is overdue strictly after it.
func (s Snapshot) OverdueAfter() time.Time {
	grace := time.Duration(s.GracePeriodHours * float64(time.Hour))
	return s.DropAt.Add(grace)
}

// HourlyLateRate derives the late rate from a daily price. It is kept
// unrounded; only the fee built from it is rounded to cents.
func HourlyLateRate(perDayPrice float64) float64 {
	if perDayPrice <= 0 {
		return 0
	}
	return perDayPrice / 24 * models.LateRateMultiplier
}

// TimeStage is the stage implied by the clock alone.
func TimeStage(s Snapshot, at time.Time) models.RentalStage {
	switch {
	case at.Before(s.PickupAt):
		return models.StageScheduled
	case at.After(s.OverdueAfter()):
		return models.StageOverdue
	default:
		return models.StageActive
	}
}

// Compute evaluates the snapshot at now. Repeated calls with a non-decreasing
// now never lower the stage, the late hours or the late fee.
func Compute(s Snapshot, now time.Time) Result {
	existing := current(s)

	computed := existing
	if s.Completed {
		computed.Stage = models.StageCompleted
	} else {
		computed.Stage = TimeStage(s, now)
	}

	frozen := s.Settled || s.Stage == models.StageCompleted
	if !frozen {
		// a recorded return stops the clock for late accrual
		at := now
		if s.ReturnedAt != nil && s.ReturnedAt.Before(now) {
			at = *s.ReturnedAt
		}

		clock := TimeStage(s, at)
		if (clock == models.StageActive || clock == models.StageOverdue) && computed.HourlyLateRate == 0 {
			computed.HourlyLateRate = HourlyLateRate(s.PerDayPrice)
		}
		if clock == models.StageOverdue {
			late := at.Sub(s.OverdueAfter())
			computed.LateHours = int64(math.Ceil(late.Hours()))
			computed.LateFee = models.Round2(float64(computed.LateHours) * computed.HourlyLateRate)
		}
	}

	merged := Merge(existing, computed)
	merged.RemainingAmount = remaining(s, merged.LateFee)
	return merged
}

// Merge combines a stored result with a fresh one without letting any
// monotonic field go backwards. A locked late rate always wins.
func Merge(existing, computed Result) Result {
	out := computed
	if existing.Stage.Rank() > computed.Stage.Rank() {
		out.Stage = existing.Stage
	}
	if existing.HourlyLateRate > 0 {
		out.HourlyLateRate = existing.HourlyLateRate
	}
	if existing.LateHours > out.LateHours {
		out.LateHours = existing.LateHours
	}
	if existing.LateFee > out.LateFee {
		out.LateFee = existing.LateFee
	}
	return out
}

// Diff returns only the fields that differ from the snapshot.
func (r Result) Diff(s Snapshot) models.BookingPatch {
	var p models.BookingPatch
	if r.Stage != s.Stage && r.Stage.Rank() > s.Stage.Rank() {
		p.RentalStage = models.Ptr(r.Stage)
	}
	if r.HourlyLateRate != s.HourlyLateRate {
		p.HourlyLateRate = models.Ptr(r.HourlyLateRate)
	}
	if r.LateHours != s.LateHours {
		p.LateHours = models.Ptr(r.LateHours)
	}
	if !models.AmountsEqual(r.LateFee, s.LateFee) {
		p.LateFee = models.Ptr(r.LateFee)
	}
	if !models.AmountsEqual(r.RemainingAmount, s.RemainingAmount) {
		p.RemainingAmount = models.Ptr(r.RemainingAmount)
	}
	return p
}

func current(s Snapshot) Result {
	stage := s.Stage
	if stage.Rank() == 0 {
		stage = models.StageScheduled
	}
	return Result{
		Stage:           stage,
		HourlyLateRate:  s.HourlyLateRate,
		LateHours:       s.LateHours,
		LateFee:         s.LateFee,
		RemainingAmount: s.RemainingAmount,
	}
}

func remaining(s Snapshot, lateFee float64) float64 {
	if s.Settled {
		return 0
	}
	return models.Round2(math.Max(s.FinalAmount-s.AdvancePaid, 0) + lateFee)
}
