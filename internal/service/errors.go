package service

import (
	"errors"
	"fmt"

	"rentalcore/internal/database"
	"rentalcore/internal/domain"
)

// storeErr translates storage sentinels into the domain taxonomy. conflict
// is what a failed conditional update means for the calling operation.
func storeErr(err error, conflict *domain.Error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrBookingNotFound):
		return domain.ErrBookingNotFound
	case errors.Is(err, database.ErrSubscriptionNotFound):
		return domain.ErrSubscriptionNotFound
	case errors.Is(err, database.ErrConditionFailed) && conflict != nil:
		return fmt.Errorf("%w: %v", conflict, err)
	default:
		return err
	}
}
