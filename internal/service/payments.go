package service

import (
	"context"
	"math"
	"strings"

	"seasonbook/internal/domain"
	"seasonbook/internal/events"
	"seasonbook/internal/models"
	"seasonbook/internal/pricing"
)

// RecordPayment attaches a charge or refund to a booking. A completed charge that
// covers the total moves a confirmed booking to paid.
func (s *BookingService) RecordPayment(ctx context.Context, scope models.Scope, bookingID int64, p models.BookingPayment) (*models.Booking, error) {
	b, err := s.load(ctx, scope, bookingID)
	if err != nil {
		return nil, err
	}

	if p.PaymentType == "" {
		p.PaymentType = models.PaymentCharge
	}
	if p.Status == "" {
		p.Status = models.PaymentPending
	}
	if !p.PaymentType.Valid() {
		return nil, domain.NewValidationError("payment_type", "unknown payment type %q", p.PaymentType)
	}
	if !p.Status.Valid() {
		return nil, domain.NewValidationError("status", "unknown payment status %q", p.Status)
	}
	if p.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if p.FeeAmount < 0 || p.FeeAmount > p.Amount {
		return nil, domain.NewValidationError("fee_amount", "must be between 0 and amount")
	}
	if strings.TrimSpace(p.PaymentMethod) == "" {
		return nil, domain.NewValidationError("payment_method", "is required")
	}
	if p.PaymentType == models.PaymentCharge && b.Status.IsTerminal() {
		return nil, &domain.StatusTransitionError{BookingID: bookingID, From: b.Status, Reason: "charges are not accepted for closed bookings"}
	}
	if p.PaymentType == models.PaymentRefund && p.Amount > b.PaidAmount() {
		return nil, domain.NewValidationError("amount", "refund %.2f exceeds paid amount %.2f", p.Amount, b.PaidAmount())
	}

	p.ID = 0
	p.BookingID = bookingID
	p.Amount = pricing.Round2(p.Amount)
	p.FeeAmount = pricing.Round2(p.FeeAmount)
	if p.Status.IsFinal() && p.ProcessedAt == nil {
		now := s.clock.Now()
		p.ProcessedAt = &now
	}
	if err := s.repo.AddPayment(ctx, scope, &p); err != nil {
		return nil, s.storeError("add payment", "booking", bookingID, err)
	}
	if p.PaymentType == models.PaymentRefund && p.Status == models.PaymentCompleted {
		if err := s.allocateRefund(ctx, scope, b, p.Amount); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Int64("booking_id", bookingID).
		Int64("payment_id", p.ID).
		Float64("amount", p.Amount).
		Str("payment_type", string(p.PaymentType)).
		Str("status", string(p.Status)).
		Msg("payment recorded")

	return s.settle(ctx, scope, bookingID, &p)
}

// UpdatePaymentStatus advances a payment reported by the gateway. Completed and failed
// payments are final.
func (s *BookingService) UpdatePaymentStatus(ctx context.Context, scope models.Scope, bookingID, paymentID int64, status models.PaymentStatus, transactionID string) (*models.Booking, error) {
	if !status.Valid() {
		return nil, domain.NewValidationError("status", "unknown payment status %q", status)
	}
	b, err := s.load(ctx, scope, bookingID)
	if err != nil {
		return nil, err
	}

	var p *models.BookingPayment
	for i := range b.Payments {
		if b.Payments[i].ID == paymentID {
			p = &b.Payments[i]
			break
		}
	}
	if p == nil {
		return nil, &domain.NotFoundError{Entity: "payment", ID: paymentID}
	}
	if p.Status == status {
		return b, nil
	}
	if p.Status.IsFinal() {
		return nil, domain.NewValidationError("status", "payment %d is already %s", paymentID, p.Status)
	}

	p.Status = status
	if transactionID != "" {
		p.GatewayTransactionID = transactionID
	}
	if status.IsFinal() {
		now := s.clock.Now()
		p.ProcessedAt = &now
	}
	if err := s.repo.UpdatePayment(ctx, scope, p); err != nil {
		return nil, s.storeError("update payment", "payment", paymentID, err)
	}
	if p.PaymentType == models.PaymentRefund && status == models.PaymentCompleted {
		if err := s.allocateRefund(ctx, scope, b, p.Amount); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Int64("booking_id", bookingID).
		Int64("payment_id", paymentID).
		Str("status", string(status)).
		Msg("payment status updated")

	return s.settle(ctx, scope, bookingID, p)
}

// allocateRefund records a completed refund against the completed charges, oldest first.
func (s *BookingService) allocateRefund(ctx context.Context, scope models.Scope, b *models.Booking, amount float64) error {
	rest := amount
	for i := range b.Payments {
		if rest <= 0 {
			break
		}
		c := &b.Payments[i]
		if c.PaymentType != models.PaymentCharge || c.Status != models.PaymentCompleted {
			continue
		}
		room := pricing.Round2(c.Amount - c.RefundedAmount)
		if room <= 0 {
			continue
		}
		take := math.Min(room, rest)
		c.RefundedAmount = pricing.Round2(c.RefundedAmount + take)
		if err := s.repo.UpdatePayment(ctx, scope, c); err != nil {
			return s.storeError("update payment", "payment", c.ID, err)
		}
		rest = pricing.Round2(rest - take)
	}
	return nil
}

// settle reloads the booking after a payment change and promotes it to paid when the
// completed charges cover the total.
func (s *BookingService) settle(ctx context.Context, scope models.Scope, bookingID int64, p *models.BookingPayment) (*models.Booking, error) {
	b, err := s.load(ctx, scope, bookingID)
	if err != nil {
		return nil, err
	}
	s.publishPayment(b, p)

	if p.Status != models.PaymentCompleted || b.Status != models.StatusConfirmed || !b.IsFullyPaid() {
		return b, nil
	}
	if _, err := s.workflow.ChangeStatus(ctx, b, models.StatusPaid, ""); err != nil {
		if !domain.IsExpected(err) {
			return nil, err
		}
		s.logger.Warn().Err(err).Int64("booking_id", bookingID).Msg("booking fully paid but not promoted")
		return b, nil
	}
	return s.load(ctx, scope, bookingID)
}

func (s *BookingService) publishPayment(b *models.Booking, p *models.BookingPayment) {
	if s.publisher == nil {
		return
	}
	payload := events.PaymentEventPayload{
		BookingID:   b.ID,
		Reference:   b.Reference,
		SeasonID:    b.SeasonID,
		SchoolID:    b.SchoolID,
		PaymentID:   p.ID,
		Amount:      p.Amount,
		PaymentType: p.PaymentType,
		Status:      p.Status,
		PaidAmount:  b.PaidAmount(),
		OccurredAt:  s.clock.Now(),
	}
	if err := s.publisher.PublishJSON(events.EventPaymentRecorded, payload); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("publish payment event error")
	}
}
