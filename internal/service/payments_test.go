package service

import (
	"context"
	"testing"

	"seasonbook/internal/domain"
	"seasonbook/internal/events"
	"seasonbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confirmedBooking(t *testing.T, f *fixture) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b, err := f.svc.CreateBooking(ctx, testScope, courseInput(2))
	require.NoError(t, err)
	b, err = f.svc.UpdateBookingStatus(ctx, testScope, b.ID, models.StatusConfirmed, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, b.Status)
	return b
}

func TestRecordPayment_FullPaymentPromotesToPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := confirmedBooking(t, f)

	partial, err := f.svc.RecordPayment(ctx, testScope, b.ID, models.BookingPayment{
		Amount: 40, PaymentMethod: "card", Status: models.PaymentCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, partial.Status)
	assert.Equal(t, 40.0, partial.PaidAmount())

	paid, err := f.svc.RecordPayment(ctx, testScope, b.ID, models.BookingPayment{
		Amount: 60, PaymentMethod: "card", Status: models.PaymentCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)
	require.Len(t, paid.Payments, 2)
	assert.Equal(t, models.PaymentCharge, paid.Payments[1].PaymentType)
	assert.NotNil(t, paid.Payments[1].ProcessedAt)
	assert.Equal(t, 2, f.pub.published(events.EventPaymentRecorded))
	assert.Equal(t, 1, f.pub.published(events.EventBookingPaid))
}

func TestRecordPayment_PendingBookingIsNotPromoted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.CreateBooking(ctx, testScope, courseInput(2))
	require.NoError(t, err)

	updated, err := f.svc.RecordPayment(ctx, testScope, b.ID, models.BookingPayment{
		Amount: b.TotalPrice, PaymentMethod: "card", Status: models.PaymentCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, updated.Status)
	assert.True(t, updated.IsFullyPaid())
}

func TestRecordPayment_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := confirmedBooking(t, f)

	tests := []struct {
		name    string
		payment models.BookingPayment
		field   string
	}{
		{"zero amount", models.BookingPayment{PaymentMethod: "card"}, "amount"},
		{"no method", models.BookingPayment{Amount: 10}, "payment_method"},
		{"fee above amount", models.BookingPayment{Amount: 10, FeeAmount: 11, PaymentMethod: "card"}, "fee_amount"},
		{"unknown type", models.BookingPayment{Amount: 10, PaymentMethod: "card", PaymentType: "voucher"}, "payment_type"},
		{"unknown status", models.BookingPayment{Amount: 10, PaymentMethod: "card", Status: "lost"}, "status"},
		{"refund above paid", models.BookingPayment{Amount: 10, PaymentMethod: "card", PaymentType: models.PaymentRefund}, "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordPayment(ctx, testScope, b.ID, tt.payment)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRecordPayment_ChargeOnClosedBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.CreateBooking(ctx, testScope, courseInput(1))
	require.NoError(t, err)
	_, err = f.svc.UpdateBookingStatus(ctx, testScope, b.ID, models.StatusCancelled, "weather")
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(ctx, testScope, b.ID, models.BookingPayment{Amount: 10, PaymentMethod: "card"})
	assert.ErrorIs(t, err, domain.ErrStatusTransition)
}

func TestUpdatePaymentStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := confirmedBooking(t, f)

	pending, err := f.svc.RecordPayment(ctx, testScope, b.ID, models.BookingPayment{
		Amount: b.TotalPrice, PaymentMethod: "card", Gateway: "stripe",
	})
	require.NoError(t, err)
	require.Len(t, pending.Payments, 1)
	assert.Equal(t, models.StatusConfirmed, pending.Status)
	paymentID := pending.Payments[0].ID

	processing, err := f.svc.UpdatePaymentStatus(ctx, testScope, b.ID, paymentID, models.PaymentProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, processing.Status)

	done, err := f.svc.UpdatePaymentStatus(ctx, testScope, b.ID, paymentID, models.PaymentCompleted, "tx-42")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, done.Status)
	assert.Equal(t, "tx-42", done.Payments[0].GatewayTransactionID)
	assert.NotNil(t, done.Payments[0].ProcessedAt)

	_, err = f.svc.UpdatePaymentStatus(ctx, testScope, b.ID, paymentID, models.PaymentFailed, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.UpdatePaymentStatus(ctx, testScope, b.ID, 9999, models.PaymentCompleted, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRefundsAreAllocatedToCharges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := confirmedBooking(t, f)

	for _, amount := range []float64{40, 60} {
		_, err := f.svc.RecordPayment(ctx, testScope, b.ID, models.BookingPayment{
			Amount: amount, PaymentMethod: "card", Status: models.PaymentCompleted,
		})
		require.NoError(t, err)
	}

	refunded, err := f.svc.RecordPayment(ctx, testScope, b.ID, models.BookingPayment{
		Amount: 50, PaymentMethod: "card", PaymentType: models.PaymentRefund, Status: models.PaymentCompleted,
	})
	require.NoError(t, err)
	require.Len(t, refunded.Payments, 3)
	assert.Equal(t, 40.0, refunded.Payments[0].RefundedAmount)
	assert.Equal(t, 10.0, refunded.Payments[1].RefundedAmount)
	assert.Equal(t, 50.0, refunded.PaidAmount())

	pending, err := f.svc.RecordPayment(ctx, testScope, b.ID, models.BookingPayment{
		Amount: 20, PaymentMethod: "card", PaymentType: models.PaymentRefund,
	})
	require.NoError(t, err)
	require.Len(t, pending.Payments, 4)
	assert.Equal(t, 10.0, pending.Payments[1].RefundedAmount)

	done, err := f.svc.UpdatePaymentStatus(ctx, testScope, b.ID, pending.Payments[3].ID, models.PaymentCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, 40.0, done.Payments[0].RefundedAmount)
	assert.Equal(t, 30.0, done.Payments[1].RefundedAmount)
	assert.Equal(t, 30.0, done.PaidAmount())
}

func TestCancelAfterPaymentComputesRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := confirmedBooking(t, f)

	_, err := f.svc.RecordPayment(ctx, testScope, b.ID, models.BookingPayment{
		Amount: 40, PaymentMethod: "card", Status: models.PaymentCompleted,
	})
	require.NoError(t, err)

	// the booking starts 19 days after testNow, inside the full refund tier
	cancelled, err := f.svc.UpdateBookingStatus(ctx, testScope, b.ID, models.StatusCancelled, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, 40.0, cancelled.RefundAmount)
	assert.Equal(t, "changed plans", cancelled.CancellationReason)
}
