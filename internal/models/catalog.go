package models

import (
	"fmt"
	"time"
)

// Scope identifies the tenant partition every booking lives in.
type Scope struct {
	SeasonID int64 `json:"season_id" yaml:"season_id"`
	SchoolID int64 `json:"school_id" yaml:"school_id"`
}

func (s Scope) Valid() bool {
	return s.SeasonID > 0 && s.SchoolID > 0
}

func (s Scope) String() string {
	return fmt.Sprintf("%d:%d", s.SeasonID, s.SchoolID)
}

type Course struct {
	ID               int64   `json:"id" yaml:"id"`
	SeasonID         int64   `json:"season_id" yaml:"season_id"`
	SchoolID         int64   `json:"school_id" yaml:"school_id"`
	Name             string  `json:"name" yaml:"name"`
	Kind             string  `json:"kind" yaml:"kind"` // course, activity
	MaxParticipants  int     `json:"max_participants" yaml:"max_participants"`
	PricePerPerson   float64 `json:"price_per_person" yaml:"price_per_person"`
	WeatherDependent bool    `json:"weather_dependent" yaml:"weather_dependent"`
	IsActive         bool    `json:"is_active" yaml:"is_active"`
}

type Monitor struct {
	ID               int64  `json:"id" yaml:"id"`
	SeasonID         int64  `json:"season_id" yaml:"season_id"`
	SchoolID         int64  `json:"school_id" yaml:"school_id"`
	Name             string `json:"name" yaml:"name"`
	MaxDailyBookings int    `json:"max_daily_bookings" yaml:"max_daily_bookings"`
	IsActive         bool   `json:"is_active" yaml:"is_active"`
}

type EquipmentInventory struct {
	SeasonID      int64      `json:"season_id" yaml:"season_id"`
	SchoolID      int64      `json:"school_id" yaml:"school_id"`
	EquipmentType string     `json:"equipment_type" yaml:"equipment_type"`
	Name          string     `json:"name" yaml:"name"`
	TotalUnits    int        `json:"total_units" yaml:"total_units"`
	DailyRate     float64    `json:"daily_rate" yaml:"daily_rate"`
	RestockDate   *time.Time `json:"restock_date,omitempty" yaml:"restock_date"`
}
