package pricing

import (
	"context"

	"seasonbook/internal/config"
	"seasonbook/internal/models"
)

type completedCounter interface {
	CountCompletedBookings(ctx context.Context, scope models.Scope, clientID int64) (int, error)
}

// GatewayLoyalty maps a client's completed bookings in scope onto the loyalty tiers.
type GatewayLoyalty struct {
	store completedCounter
	tiers []config.Band
}

func NewGatewayLoyalty(store completedCounter, tiers []config.Band) *GatewayLoyalty {
	sorted := append([]config.Band(nil), tiers...)
	config.SortBands(sorted)
	return &GatewayLoyalty{store: store, tiers: sorted}
}

func (l *GatewayLoyalty) LoyaltyRate(ctx context.Context, scope models.Scope, clientID int64) (float64, error) {
	if len(l.tiers) == 0 {
		return 0, nil
	}
	count, err := l.store.CountCompletedBookings(ctx, scope, clientID)
	if err != nil {
		return 0, err
	}
	return bandRate(l.tiers, count), nil
}
