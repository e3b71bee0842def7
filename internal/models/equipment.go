package models

import (
	"errors"
	"math"
	"time"
)

var (
	ErrEquipmentAlreadyRented = errors.New("equipment already rented")
	ErrEquipmentNotRented     = errors.New("equipment is not rented")
	ErrEquipmentReturned      = errors.New("equipment already returned")
	ErrInvalidCondition       = errors.New("invalid equipment condition")
)

// BookingEquipment is one rented unit attached to a booking.
type BookingEquipment struct {
	ID            int64      `json:"id"`
	BookingID     int64      `json:"booking_id"`
	EquipmentType string     `json:"equipment_type"`
	Name          string     `json:"name"`
	Size          string     `json:"size,omitempty"`
	DailyRate     float64    `json:"daily_rate"`
	RentalDays    int        `json:"rental_days"`
	TotalPrice    float64    `json:"total_price"`
	ConditionOut  Condition  `json:"condition_out,omitempty"`
	ConditionIn   Condition  `json:"condition_in,omitempty"`
	ReservedAt    *time.Time `json:"reserved_at,omitempty"`
	RentedAt      *time.Time `json:"rented_at,omitempty"`
	ReturnedAt    *time.Time `json:"returned_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (e *BookingEquipment) Recalculate() {
	if e.RentalDays < 1 {
		e.RentalDays = 1
	}
	e.TotalPrice = math.Round(e.DailyRate*float64(e.RentalDays)*100) / 100
}

func (e *BookingEquipment) MarkAsRented(condition Condition, at time.Time) error {
	if !condition.Valid() {
		return ErrInvalidCondition
	}
	if e.RentedAt != nil {
		return ErrEquipmentAlreadyRented
	}
	e.ConditionOut = condition
	e.RentedAt = &at
	return nil
}

func (e *BookingEquipment) MarkAsReturned(condition Condition, at time.Time) error {
	if !condition.Valid() {
		return ErrInvalidCondition
	}
	if e.RentedAt == nil {
		return ErrEquipmentNotRented
	}
	if e.ReturnedAt != nil {
		return ErrEquipmentReturned
	}
	e.ConditionIn = condition
	e.ReturnedAt = &at
	return nil
}

// DegradationSteps is how many condition levels the unit lost while rented.
func (e *BookingEquipment) DegradationSteps() int {
	if e.ReturnedAt == nil || !e.ConditionOut.Valid() || !e.ConditionIn.Valid() {
		return 0
	}
	steps := e.ConditionOut.Rank() - e.ConditionIn.Rank()
	if steps < 0 {
		return 0
	}
	return steps
}

// CalculateDamageFee charges ratePerStep of the rental price for every lost condition level.
func (e *BookingEquipment) CalculateDamageFee(ratePerStep float64) float64 {
	steps := e.DegradationSteps()
	if steps == 0 {
		return 0
	}
	if ratePerStep <= 0 {
		ratePerStep = DefaultDamageFeeRate
	}
	return math.Round(e.TotalPrice*ratePerStep*float64(steps)*100) / 100
}

// IsOutstanding reports rented units not returned after the booking ended.
func (e *BookingEquipment) IsOutstanding(bookingEnd, now time.Time) bool {
	if e.RentedAt == nil || e.ReturnedAt != nil {
		return false
	}
	return DateOnly(bookingEnd).Before(DateOnly(now))
}
