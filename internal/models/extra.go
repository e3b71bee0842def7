package models

import (
	"math"
	"time"
)

type BookingExtra struct {
	ID         int64     `json:"id"`
	BookingID  int64     `json:"booking_id"`
	Name       string    `json:"name"`
	UnitPrice  float64   `json:"unit_price"`
	Quantity   int       `json:"quantity"`
	TotalPrice float64   `json:"total_price"`
	Required   bool      `json:"required"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (e *BookingExtra) Recalculate() {
	if e.Quantity < 1 {
		e.Quantity = 1
	}
	e.TotalPrice = math.Round(e.UnitPrice*float64(e.Quantity)*100) / 100
}
