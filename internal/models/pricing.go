package models

import "time"

// PriceRequest carries everything the calculator reads; it never touches storage itself.
type PriceRequest struct {
	Scope            Scope
	Type             BookingType
	ClientID         int64
	CourseID         *int64
	ParticipantCount int
	PerPersonRate    float64 // course/activity rate
	DailyRate        float64 // material bookings
	StartDate        time.Time
	EndDate          time.Time
	StartTime        string
	Extras           []BookingExtra
	Equipment        []BookingEquipment
	HasInsurance     bool
	InsuranceAmount  *float64 // fixed override
	PromoCode        string
}

type DiscountBreakdown struct {
	EarlyBird float64 `json:"early_bird"`
	Group     float64 `json:"group"`
	Loyalty   float64 `json:"loyalty"`
	Promo     float64 `json:"promo"`
}

type DynamicBreakdown struct {
	DemandMultiplier     float64 `json:"demand_multiplier"`
	SeasonalMultiplier   float64 `json:"seasonal_multiplier"`
	LastMinuteMultiplier float64 `json:"last_minute_multiplier"`
	Demand               float64 `json:"demand"`
	Seasonal             float64 `json:"seasonal"`
	LastMinute           float64 `json:"last_minute"`
}

type PriceBreakdown struct {
	Type               BookingType       `json:"type"`
	PerPersonRate      float64           `json:"per_person_rate"`
	ParticipantCount   int               `json:"participant_count"`
	RentalDays         int               `json:"rental_days"`
	BaseMultiplier     float64           `json:"base_multiplier"`
	BasePrice          float64           `json:"base_price"`
	ExtrasPrice        float64           `json:"extras_price"`
	EquipmentPrice     float64           `json:"equipment_price"`
	InsurancePrice     float64           `json:"insurance_price"`
	Subtotal           float64           `json:"subtotal"`
	Discounts          DiscountBreakdown `json:"discounts"`
	DiscountAmount     float64           `json:"discount_amount"`
	TaxRate            float64           `json:"tax_rate"`
	TaxAmount          float64           `json:"tax_amount"`
	TotalBeforeDynamic float64           `json:"total_before_dynamic"`
	Dynamic            DynamicBreakdown  `json:"dynamic"`
	DynamicAdjustment  float64           `json:"dynamic_adjustment"`
	TotalPrice         float64           `json:"total_price"`
	Currency           string            `json:"currency"`
}
