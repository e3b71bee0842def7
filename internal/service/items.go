package service

import (
	"context"
	"errors"
	"strings"

	"seasonbook/internal/domain"
	"seasonbook/internal/events"
	"seasonbook/internal/models"
	"seasonbook/internal/pricing"
)

// SyncBookingExtras replaces the extras of a booking and reprices it.
func (s *BookingService) SyncBookingExtras(ctx context.Context, scope models.Scope, id int64, extras []models.BookingExtra) (*models.Booking, error) {
	if extras == nil {
		extras = []models.BookingExtra{}
	}
	return s.UpdateBooking(ctx, scope, id, models.BookingUpdate{Extras: &extras})
}

// SyncBookingEquipment replaces the equipment of a booking. Added units are checked
// against inventory like any reschedule.
func (s *BookingService) SyncBookingEquipment(ctx context.Context, scope models.Scope, id int64, equipment []models.BookingEquipment) (*models.Booking, error) {
	if equipment == nil {
		equipment = []models.BookingEquipment{}
	}
	return s.UpdateBooking(ctx, scope, id, models.BookingUpdate{Equipment: &equipment})
}

// MarkEquipmentRented hands a unit out. Only confirmed or paid bookings can rent.
func (s *BookingService) MarkEquipmentRented(ctx context.Context, scope models.Scope, bookingID, equipmentID int64, condition models.Condition) (*models.BookingEquipment, error) {
	b, e, err := s.equipmentUnit(ctx, scope, bookingID, equipmentID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusConfirmed && b.Status != models.StatusPaid {
		return nil, &domain.StatusTransitionError{
			BookingID: bookingID,
			From:      b.Status,
			Reason:    "equipment can only be rented for confirmed or paid bookings",
		}
	}
	if err := e.MarkAsRented(condition, s.clock.Now()); err != nil {
		return nil, equipmentError("condition_out", err)
	}
	if err := s.repo.UpdateEquipment(ctx, scope, e); err != nil {
		return nil, s.storeError("update equipment", "equipment", equipmentID, err)
	}

	s.logger.Info().
		Int64("booking_id", bookingID).
		Int64("equipment_id", equipmentID).
		Str("condition", string(condition)).
		Msg("equipment rented")
	s.publishEquipment(events.EventEquipmentRented, b, e, condition, 0)
	return e, nil
}

// MarkEquipmentReturned takes a unit back and reports the damage fee it incurred.
func (s *BookingService) MarkEquipmentReturned(ctx context.Context, scope models.Scope, bookingID, equipmentID int64, condition models.Condition) (*models.BookingEquipment, float64, error) {
	b, e, err := s.equipmentUnit(ctx, scope, bookingID, equipmentID)
	if err != nil {
		return nil, 0, err
	}
	if err := e.MarkAsReturned(condition, s.clock.Now()); err != nil {
		return nil, 0, equipmentError("condition_in", err)
	}
	if err := s.repo.UpdateEquipment(ctx, scope, e); err != nil {
		return nil, 0, s.storeError("update equipment", "equipment", equipmentID, err)
	}

	fee := e.CalculateDamageFee(s.damageRate)
	s.logger.Info().
		Int64("booking_id", bookingID).
		Int64("equipment_id", equipmentID).
		Str("condition", string(condition)).
		Float64("damage_fee", fee).
		Msg("equipment returned")
	s.publishEquipment(events.EventEquipmentReturned, b, e, condition, fee)
	return e, fee, nil
}

func (s *BookingService) equipmentUnit(ctx context.Context, scope models.Scope, bookingID, equipmentID int64) (*models.Booking, *models.BookingEquipment, error) {
	b, err := s.load(ctx, scope, bookingID)
	if err != nil {
		return nil, nil, err
	}
	for i := range b.Equipment {
		if b.Equipment[i].ID == equipmentID {
			return b, &b.Equipment[i], nil
		}
	}
	return nil, nil, &domain.NotFoundError{Entity: "equipment", ID: equipmentID}
}

func equipmentError(field string, err error) error {
	switch {
	case errors.Is(err, models.ErrInvalidCondition):
		return domain.NewValidationError(field, "unknown condition")
	default:
		return domain.NewValidationError(field, "%s", err.Error())
	}
}

// GetDamageReport lists returned units that came back worse than they left.
func (s *BookingService) GetDamageReport(ctx context.Context, scope models.Scope, bookingID int64) (*models.DamageReport, error) {
	b, err := s.load(ctx, scope, bookingID)
	if err != nil {
		return nil, err
	}
	report := &models.DamageReport{
		BookingID: b.ID,
		Reference: b.Reference,
		Items:     []models.DamageItem{},
		Currency:  b.Currency,
	}
	for _, e := range b.Equipment {
		steps := e.DegradationSteps()
		if steps == 0 {
			continue
		}
		fee := e.CalculateDamageFee(s.damageRate)
		report.Items = append(report.Items, models.DamageItem{
			EquipmentID:   e.ID,
			EquipmentType: e.EquipmentType,
			Name:          e.Name,
			ConditionOut:  e.ConditionOut,
			ConditionIn:   e.ConditionIn,
			Steps:         steps,
			DamageFee:     fee,
		})
		report.TotalDamageFees += fee
	}
	report.TotalDamageFees = pricing.Round2(report.TotalDamageFees)
	return report, nil
}

// GetOutstandingEquipment lists rented units whose booking ended without a return.
func (s *BookingService) GetOutstandingEquipment(ctx context.Context, scope models.Scope) ([]models.OutstandingRental, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	out, err := s.repo.ListOutstandingEquipment(ctx, scope, s.clock.Now())
	if err != nil {
		return nil, s.storeError("list outstanding equipment", "equipment", 0, err)
	}
	return out, nil
}

func (s *BookingService) publishEquipment(eventType string, b *models.Booking, e *models.BookingEquipment, condition models.Condition, fee float64) {
	if s.publisher == nil {
		return
	}
	payload := events.EquipmentEventPayload{
		BookingID:     b.ID,
		Reference:     b.Reference,
		SeasonID:      b.SeasonID,
		SchoolID:      b.SchoolID,
		EquipmentID:   e.ID,
		EquipmentType: strings.TrimSpace(e.EquipmentType),
		Condition:     condition,
		DamageFee:     fee,
		OccurredAt:    s.clock.Now(),
	}
	if err := s.publisher.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}
