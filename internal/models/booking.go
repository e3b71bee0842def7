package models

import (
	"math"
	"time"
)

type Booking struct {
	ID        int64       `json:"id"`
	Reference string      `json:"reference"`
	SeasonID  int64       `json:"season_id"`
	SchoolID  int64       `json:"school_id"`
	Type      BookingType `json:"type"`

	ClientID         int64  `json:"client_id"`
	CourseID         *int64 `json:"course_id,omitempty"`
	MonitorID        *int64 `json:"monitor_id,omitempty"`
	ParticipantCount int    `json:"participant_count"`

	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	StartTime string    `json:"start_time,omitempty"` // HH:MM, empty for whole-day bookings
	EndTime   string    `json:"end_time,omitempty"`

	Status Status `json:"status"`

	BasePrice         float64 `json:"base_price"`
	ExtrasPrice       float64 `json:"extras_price"`
	EquipmentPrice    float64 `json:"equipment_price"`
	InsurancePrice    float64 `json:"insurance_price"`
	DiscountAmount    float64 `json:"discount_amount"`
	TaxAmount         float64 `json:"tax_amount"`
	DynamicAdjustment float64 `json:"dynamic_adjustment"`
	TotalPrice        float64 `json:"total_price"`
	Currency          string  `json:"currency"`
	RefundAmount      float64 `json:"refund_amount"`

	HasInsurance bool   `json:"has_insurance"`
	HasEquipment bool   `json:"has_equipment"`
	PromoCode    string `json:"promo_code,omitempty"`
	Notes        string `json:"notes,omitempty"`

	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	PaidAt             *time.Time `json:"paid_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	NoShowAt           *time.Time `json:"no_show_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`

	Tombstoned   bool       `json:"tombstoned"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`

	Extras    []BookingExtra     `json:"extras,omitempty"`
	Equipment []BookingEquipment `json:"equipment,omitempty"`
	Payments  []BookingPayment   `json:"payments,omitempty"`
}

func (b *Booking) Scope() Scope {
	return Scope{SeasonID: b.SeasonID, SchoolID: b.SchoolID}
}

// HasSchedulableResource reports whether the booking occupies a course, a monitor or equipment units.
func (b *Booking) HasSchedulableResource() bool {
	return b.CourseID != nil || b.MonitorID != nil || len(b.Equipment) > 0
}

// ComponentTotal recomputes the total from the stored money components.
func (b *Booking) ComponentTotal() float64 {
	sum := b.BasePrice + b.ExtrasPrice + b.EquipmentPrice + b.InsurancePrice -
		b.DiscountAmount + b.TaxAmount + b.DynamicAdjustment
	return math.Round(sum*100) / 100
}

// ApplyPrice copies a price breakdown onto the booking money fields.
func (b *Booking) ApplyPrice(p *PriceBreakdown) {
	b.BasePrice = p.BasePrice
	b.ExtrasPrice = p.ExtrasPrice
	b.EquipmentPrice = p.EquipmentPrice
	b.InsurancePrice = p.InsurancePrice
	b.DiscountAmount = p.DiscountAmount
	b.TaxAmount = p.TaxAmount
	b.DynamicAdjustment = p.DynamicAdjustment
	b.TotalPrice = p.TotalPrice
	b.Currency = p.Currency
}

// PaidAmount is the sum of completed charges minus completed refunds.
func (b *Booking) PaidAmount() float64 {
	var paid float64
	for i := range b.Payments {
		p := &b.Payments[i]
		if p.Status != PaymentCompleted {
			continue
		}
		switch p.PaymentType {
		case PaymentCharge:
			paid += p.Amount
		case PaymentRefund:
			paid -= p.Amount
		}
	}
	return math.Round(paid*100) / 100
}

func (b *Booking) IsFullyPaid() bool {
	return b.PaidAmount() >= b.TotalPrice
}

// OutstandingBalance is never negative.
func (b *Booking) OutstandingBalance() float64 {
	rest := b.TotalPrice - b.PaidAmount()
	if rest < 0 {
		return 0
	}
	return math.Round(rest*100) / 100
}

func (b *Booking) EquipmentRequests() []EquipmentRequest {
	counts := make(map[string]int)
	var order []string
	for _, e := range b.Equipment {
		if _, ok := counts[e.EquipmentType]; !ok {
			order = append(order, e.EquipmentType)
		}
		counts[e.EquipmentType]++
	}
	reqs := make([]EquipmentRequest, 0, len(order))
	for _, t := range order {
		reqs = append(reqs, EquipmentRequest{EquipmentType: t, Quantity: counts[t]})
	}
	return reqs
}

// AvailabilityRequest describes the resources and window the booking occupies,
// excluding the booking itself from the overlap search.
func (b *Booking) AvailabilityRequest() AvailabilityRequest {
	return AvailabilityRequest{
		Scope:            b.Scope(),
		BookingType:      b.Type,
		CourseID:         b.CourseID,
		MonitorID:        b.MonitorID,
		Equipment:        b.EquipmentRequests(),
		StartDate:        b.StartDate,
		EndDate:          b.EndDate,
		StartTime:        b.StartTime,
		EndTime:          b.EndTime,
		ParticipantCount: b.ParticipantCount,
		ExcludeBookingID: b.ID,
	}
}

// RentalDays is the inclusive number of calendar days the booking spans.
func (b *Booking) RentalDays() int {
	return DaysInclusive(b.StartDate, b.EndDate)
}

// DaysInclusive counts calendar days from start to end, both included; never below 1.
func DaysInclusive(start, end time.Time) int {
	s := DateOnly(start)
	e := DateOnly(end)
	if e.Before(s) {
		return 1
	}
	return int(e.Sub(s).Hours()/24) + 1
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
