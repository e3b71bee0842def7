package availability

import (
	"context"
	"fmt"
	"time"

	"seasonbook/internal/models"
)

func (c *Checker) suggest(ctx context.Context, req models.AvailabilityRequest, res *resources, w window, result *models.AvailabilityResult, bl blockers) ([]models.Suggestion, error) {
	limit := c.cfg.MaxSuggestions
	if limit <= 0 {
		limit = 3
	}
	suggestions := []models.Suggestion{}

	for _, conflict := range result.Conflicts {
		switch conflict.Type {
		case models.ConflictCapacityExceeded:
			if conflict.AvailableSpots > 0 {
				suggestions = append(suggestions, models.Suggestion{
					Type:      models.SuggestionSplitBooking,
					Date:      w.start,
					StartTime: req.StartTime,
					EndTime:   req.EndTime,
					Spots:     conflict.AvailableSpots,
					Message: fmt.Sprintf("book %d participant(s) now and %d on another date",
						conflict.AvailableSpots, conflict.Requested-conflict.AvailableSpots),
				})
			}
		case models.ConflictEquipmentShortage:
			if d, ok := restockDate(res.inventory[conflict.EquipmentType], bl.equipment[conflict.EquipmentType], w); ok {
				suggestions = append(suggestions, models.Suggestion{
					Type:    models.SuggestionRestockDate,
					Date:    d,
					Message: fmt.Sprintf("%s units expected back on %s", conflict.EquipmentType, d.Format(models.DateLayout)),
				})
			}
		}
	}

	if anyInactive(result.Conflicts) {
		return suggestions, nil
	}

	windowDays := c.cfg.SuggestionWindowDays
	if windowDays <= 0 {
		windowDays = 7
	}
	found := 0
	for offset := 1; offset <= windowDays && found < limit; offset++ {
		probe := w.shift(offset)
		shifted := req
		shifted.StartDate = probe.start
		shifted.EndDate = probe.end

		r, _, err := c.evaluate(ctx, shifted, res, probe)
		if err != nil {
			return nil, err
		}
		if !r.Available {
			continue
		}
		found++
		suggestions = append(suggestions, models.Suggestion{
			Type:      models.SuggestionAlternativeDate,
			Date:      probe.start,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			Spots:     r.CapacityInfo.AvailableSpots,
			Message:   fmt.Sprintf("available from %s", probe.start.Format(models.DateLayout)),
		})
	}
	return suggestions, nil
}

// restockDate prefers the inventory's restock date, else the day after the earliest
// conflicting rental ends.
func restockDate(inv *models.EquipmentInventory, conflicting []*models.Booking, w window) (time.Time, bool) {
	if inv != nil && inv.RestockDate != nil {
		d := models.DateOnly(*inv.RestockDate)
		if !d.Before(w.start) {
			return d, true
		}
	}
	var earliest time.Time
	for _, b := range conflicting {
		end := models.DateOnly(b.EndDate)
		if earliest.IsZero() || end.Before(earliest) {
			earliest = end
		}
	}
	if earliest.IsZero() {
		return time.Time{}, false
	}
	return earliest.AddDate(0, 0, 1), true
}

// an inactive resource stays inactive on every other date
func anyInactive(conflicts []models.Conflict) bool {
	for _, c := range conflicts {
		if c.Type == models.ConflictResourceInactive {
			return true
		}
	}
	return false
}
