package models

import "time"

type EquipmentRequest struct {
	EquipmentType string `json:"equipment_type"`
	Quantity      int    `json:"quantity"`
}

// AvailabilityRequest describes the window and resources to check.
type AvailabilityRequest struct {
	Scope            Scope              `json:"scope"`
	BookingType      BookingType        `json:"booking_type,omitempty"`
	CourseID         *int64             `json:"course_id,omitempty"`
	MonitorID        *int64             `json:"monitor_id,omitempty"`
	Equipment        []EquipmentRequest `json:"equipment,omitempty"`
	StartDate        time.Time          `json:"start_date"`
	EndDate          time.Time          `json:"end_date"`
	StartTime        string             `json:"start_time,omitempty"`
	EndTime          string             `json:"end_time,omitempty"`
	ParticipantCount int                `json:"participant_count"`
	ExcludeBookingID int64              `json:"exclude_booking_id,omitempty"`
}

const (
	ConflictCapacityExceeded   = "capacity_exceeded"
	ConflictMonitorUnavailable = "monitor_unavailable"
	ConflictEquipmentShortage  = "equipment_shortage"
	ConflictResourceInactive   = "resource_inactive"
)

type Conflict struct {
	Type                  string  `json:"type"`
	ResourceType          string  `json:"resource_type"` // course, monitor, equipment
	ResourceID            int64   `json:"resource_id,omitempty"`
	EquipmentType         string  `json:"equipment_type,omitempty"`
	Message               string  `json:"message"`
	Requested             int     `json:"requested"`
	AvailableSpots        int     `json:"available_spots"`
	ConflictingBookingIDs []int64 `json:"conflicting_booking_ids,omitempty"`
}

type EquipmentCapacity struct {
	Total     int `json:"total"`
	Committed int `json:"committed"`
	Available int `json:"available"`
	Requested int `json:"requested"`
}

type CapacityInfo struct {
	MaxParticipants     int                          `json:"max_participants"`
	CurrentParticipants int                          `json:"current_participants"`
	AvailableSpots      int                          `json:"available_spots"`
	MonitorBookings     int                          `json:"monitor_bookings"`
	MonitorDailyLoad    int                          `json:"monitor_daily_load"`
	MonitorOverloaded   bool                         `json:"monitor_overloaded"`
	MonitorFatigue      float64                      `json:"monitor_fatigue"`
	Equipment           map[string]EquipmentCapacity `json:"equipment,omitempty"`
}

const (
	SuggestionAlternativeDate = "alternative_date"
	SuggestionSplitBooking    = "split_booking"
	SuggestionRestockDate     = "restock_date"
)

// Suggestion is advisory and never applied automatically.
type Suggestion struct {
	Type      string    `json:"type"`
	Date      time.Time `json:"date"`
	StartTime string    `json:"start_time,omitempty"`
	EndTime   string    `json:"end_time,omitempty"`
	Spots     int       `json:"spots,omitempty"`
	Message   string    `json:"message"`
}

const (
	WarningPeakPeriod        = "peak_period"
	WarningHoliday           = "holiday"
	WarningWeatherDependent  = "weather_dependent"
	WarningLastMinute        = "last_minute"
	WarningMonitorOverloaded = "monitor_overloaded"
)

type Warning struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type AvailabilityResult struct {
	Available    bool         `json:"available"`
	Conflicts    []Conflict   `json:"conflicts"`
	CapacityInfo CapacityInfo `json:"capacity_info"`
	Suggestions  []Suggestion `json:"suggestions"`
	Warnings     []Warning    `json:"warnings"`
}

func (r *AvailabilityResult) HasConflict(conflictType string) bool {
	for _, c := range r.Conflicts {
		if c.Type == conflictType {
			return true
		}
	}
	return false
}
