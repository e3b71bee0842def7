package models

import (
	"math"
	"time"
)

type BookingPayment struct {
	ID                   int64         `json:"id"`
	BookingID            int64         `json:"booking_id"`
	Amount               float64       `json:"amount"`
	FeeAmount            float64       `json:"fee_amount"`
	PaymentMethod        string        `json:"payment_method"`
	PaymentType          PaymentType   `json:"payment_type"`
	Status               PaymentStatus `json:"status"`
	Gateway              string        `json:"gateway,omitempty"`
	GatewayTransactionID string        `json:"gateway_transaction_id,omitempty"`
	ProcessedAt          *time.Time    `json:"processed_at,omitempty"`
	RefundedAmount       float64       `json:"refunded_amount"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

func (p *BookingPayment) NetAmount() float64 {
	return math.Round((p.Amount-p.FeeAmount)*100) / 100
}
