package models

import "time"

// BookingInput is the payload for creating a booking.
type BookingInput struct {
	Type             BookingType `json:"type"`
	ClientID         int64       `json:"client_id"`
	CourseID         *int64      `json:"course_id,omitempty"`
	MonitorID        *int64      `json:"monitor_id,omitempty"`
	ParticipantCount int         `json:"participant_count"`
	StartDate        time.Time   `json:"start_date"`
	EndDate          time.Time   `json:"end_date"`
	StartTime        string      `json:"start_time,omitempty"`
	EndTime          string      `json:"end_time,omitempty"`

	// PerPersonRate overrides the course price; DailyRate is the base rate of material bookings.
	PerPersonRate   *float64 `json:"per_person_rate,omitempty"`
	DailyRate       *float64 `json:"daily_rate,omitempty"`
	HasInsurance    bool     `json:"has_insurance"`
	InsuranceAmount *float64 `json:"insurance_amount,omitempty"`
	PromoCode       string   `json:"promo_code,omitempty"`
	Notes           string   `json:"notes,omitempty"`

	Extras    []BookingExtra     `json:"extras,omitempty"`
	Equipment []BookingEquipment `json:"equipment,omitempty"`
}

// BookingUpdate is a partial edit. Nil fields keep their stored value; a non-nil
// Extras or Equipment slice replaces the collection through a diff-sync.
type BookingUpdate struct {
	CourseID         *int64     `json:"course_id,omitempty"`
	MonitorID        *int64     `json:"monitor_id,omitempty"`
	ParticipantCount *int       `json:"participant_count,omitempty"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	StartTime        *string    `json:"start_time,omitempty"`
	EndTime          *string    `json:"end_time,omitempty"`

	PerPersonRate   *float64 `json:"per_person_rate,omitempty"`
	DailyRate       *float64 `json:"daily_rate,omitempty"`
	HasInsurance    *bool    `json:"has_insurance,omitempty"`
	InsuranceAmount *float64 `json:"insurance_amount,omitempty"`
	PromoCode       *string  `json:"promo_code,omitempty"`
	Notes           *string  `json:"notes,omitempty"`

	Extras    *[]BookingExtra     `json:"extras,omitempty"`
	Equipment *[]BookingEquipment `json:"equipment,omitempty"`

	// Version, when set, must match the stored version.
	Version int64 `json:"version,omitempty"`
}
