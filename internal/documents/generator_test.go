package documents

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"rentalcore/internal/config"
	"rentalcore/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settled() *models.Booking {
	pickup := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	paid := pickup.Add(50 * time.Hour)
	return &models.Booking{
		ID:                12,
		UserID:            3,
		CarID:             4,
		RentalType:        models.RentalStandard,
		PickupAt:          pickup,
		DropAt:            pickup.Add(48 * time.Hour),
		RentalStage:       models.StageCompleted,
		BookingStatus:     models.BookingCompleted,
		PaymentStatus:     models.PaymentFullyPaid,
		TotalAmount:       2400,
		AdvancePaid:       1000,
		LateHours:         3,
		LateFee:           450,
		DamageCharge:      300,
		FullPaymentAmount: 2150,
		FullPaymentMethod: models.MethodCard,
		FullPaymentAt:     &paid,
		ReturnedAt:        &paid,
	}
}

func newGenerator(t *testing.T) *Generator {
	logger := zerolog.Nop()
	return NewGenerator(config.DocumentsConfig{Path: filepath.Join(t.TempDir(), "docs")}, &logger)
}

func TestGenerator_SettlementStatement(t *testing.T) {
	g := newGenerator(t)

	path, err := g.SettlementStatement(context.Background(), settled())
	require.NoError(t, err)
	assert.Equal(t, "settlement_12.xlsx", filepath.Base(path))

	values, err := ReadStatement(path)
	require.NoError(t, err)
	assert.Equal(t, "2150", values["Collected"])
	assert.Equal(t, "450", values["Late fee"])
	assert.Equal(t, "300", values["Damage charge"])
	assert.Equal(t, "card", values["Payment method"])
}

func TestGenerator_RefundStatement(t *testing.T) {
	g := newGenerator(t)

	b := settled()
	_, err := g.RefundStatement(context.Background(), b)
	assert.Error(t, err)

	b.RefundStatus = models.RefundProcessed
	b.RefundType = models.RefundPartial
	b.RefundAmount = 500
	b.RefundReason = "late pickup"
	path, err := g.RefundStatement(context.Background(), b)
	require.NoError(t, err)

	values, err := ReadStatement(path)
	require.NoError(t, err)
	assert.Equal(t, "500", values["Refund amount"])
	assert.Equal(t, "partial", values["Refund type"])
	assert.Equal(t, "late pickup", values["Reason"])
}

func TestGenerator_RejectsUnsettled(t *testing.T) {
	g := newGenerator(t)
	b := settled()
	b.RentalStage = models.StageActive

	_, err := g.SettlementStatement(context.Background(), b)
	assert.Error(t, err)
}
