package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"seasonbook/internal/config"
	"seasonbook/internal/domain"
	"seasonbook/internal/events"
	"seasonbook/internal/metrics"
	"seasonbook/internal/models"
	"seasonbook/internal/pricing"
)

// Post-action names, also used as task actions in the retry outbox.
const (
	ActionNotify           = "notify"
	ActionReleaseResources = "release_resources"
	ActionUpdateLoyalty    = "update_loyalty"
	ActionRequestFeedback  = "request_feedback"
)

func (m *Machine) beforeConfirm(ctx context.Context, b *models.Booking, change *models.StatusChange) error {
	if !b.HasSchedulableResource() || m.checker == nil {
		return nil
	}

	result, err := m.checker.Check(ctx, b.AvailabilityRequest())
	if err != nil {
		return err
	}
	if !result.Available {
		for _, c := range result.Conflicts {
			metrics.IncAvailabilityConflict(c.Type)
		}
		return &domain.AvailabilityError{Conflicts: result.Conflicts, Suggestions: result.Suggestions}
	}

	change.ReserveEquipment = len(b.Equipment) > 0
	return nil
}

func (m *Machine) beforePaid(_ context.Context, b *models.Booking, _ *models.StatusChange) error {
	if b.TotalPrice <= 0 || !b.IsFullyPaid() {
		return &domain.StatusTransitionError{
			BookingID: b.ID,
			From:      b.Status,
			To:        models.StatusPaid,
			Reason:    fmt.Sprintf("completed payments %.2f below total %.2f", b.PaidAmount(), b.TotalPrice),
		}
	}
	return nil
}

func (m *Machine) beforeCancel(_ context.Context, b *models.Booking, change *models.StatusChange) error {
	refund, _ := RefundFor(m.cfg.CancellationPolicy, b, change.At)
	change.RefundAmount = &refund
	return nil
}

// RefundFor returns the refund owed when b is cancelled at now, and the policy rate applied.
// Tiers are matched on hours remaining before the booking starts; the first tier whose
// threshold is met wins, so tiers must be sorted by descending threshold.
func RefundFor(policy []config.RefundTier, b *models.Booking, now time.Time) (float64, float64) {
	hours := StartsAt(b).Sub(now).Hours()
	rate := 0.0
	for _, tier := range policy {
		if hours >= float64(tier.MinHoursBefore) {
			rate = tier.RefundRate
			break
		}
	}
	return pricing.Round2(b.PaidAmount() * rate), rate
}

// StartsAt is the instant the booking begins: start date plus start time when one is set.
func StartsAt(b *models.Booking) time.Time {
	start := models.DateOnly(b.StartDate)
	if t, err := time.Parse(models.TimeLayout, b.StartTime); err == nil {
		start = start.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
	}
	return start
}

func (m *Machine) notify(_ context.Context, b *models.Booking, previous models.Status) error {
	if m.publisher == nil {
		return nil
	}
	return m.publisher.PublishJSON(events.StatusEvent(b.Status), events.NewBookingPayload(b, previous, m.clock.Now()))
}

func (m *Machine) releaseResources(ctx context.Context, b *models.Booking, _ models.Status) error {
	if len(b.Equipment) == 0 {
		return nil
	}
	return m.store.ReleaseEquipment(ctx, b.Scope(), b.ID)
}

type loyaltyPayload struct {
	ClientID          int64     `json:"client_id"`
	SeasonID          int64     `json:"season_id"`
	SchoolID          int64     `json:"school_id"`
	CompletedBookings int       `json:"completed_bookings"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (m *Machine) updateLoyalty(ctx context.Context, b *models.Booking, _ models.Status) error {
	count, err := m.store.CountCompletedBookings(ctx, b.Scope(), b.ClientID)
	if err != nil {
		return err
	}
	if m.publisher == nil {
		return nil
	}
	return m.publisher.PublishJSON(events.EventLoyaltyUpdated, loyaltyPayload{
		ClientID:          b.ClientID,
		SeasonID:          b.SeasonID,
		SchoolID:          b.SchoolID,
		CompletedBookings: count,
		OccurredAt:        m.clock.Now(),
	})
}

func (m *Machine) requestFeedback(_ context.Context, b *models.Booking, previous models.Status) error {
	if m.publisher == nil {
		return nil
	}
	return m.publisher.PublishJSON(events.EventFeedbackRequested, events.NewBookingPayload(b, previous, m.clock.Now()))
}

type taskPayload struct {
	PreviousStatus models.Status `json:"previous_status"`
	Status         models.Status `json:"status,omitempty"`
}

func (m *Machine) runPostActions(ctx context.Context, b *models.Booking, previous models.Status) {
	for _, action := range m.post[b.Status] {
		err := action.run(ctx, b, previous)
		if err == nil {
			continue
		}

		metrics.IncPostActionFailure(action.name)
		m.logger.Warn().Err(err).
			Int64("booking_id", b.ID).
			Str("action", action.name).
			Str("to", string(b.Status)).
			Msg("post-transition action failed")
		m.enqueue(ctx, b, previous, action.name, err)
	}
}

func (m *Machine) enqueue(ctx context.Context, b *models.Booking, previous models.Status, action string, cause error) {
	if m.queue == nil {
		return
	}
	raw, _ := json.Marshal(taskPayload{PreviousStatus: previous, Status: b.Status})
	msg := cause.Error()
	task := &models.PostActionTask{
		Action:    action,
		SeasonID:  b.SeasonID,
		SchoolID:  b.SchoolID,
		BookingID: b.ID,
		Payload:   string(raw),
		Status:    models.TaskStatusPending,
		LastError: &msg,
	}
	if err := m.queue.CreatePostActionTask(ctx, task); err != nil {
		m.logger.Error().Err(err).Int64("booking_id", b.ID).Str("action", action).Msg("enqueue post-action failed")
	}
}

// RunPostAction replays a queued post-action against the booking's current state,
// as of the transition that queued it.
func (m *Machine) RunPostAction(ctx context.Context, task models.PostActionTask) error {
	scope := models.Scope{SeasonID: task.SeasonID, SchoolID: task.SchoolID}
	b, err := m.store.GetBooking(ctx, scope, task.BookingID)
	if err != nil {
		return domain.FromStore("load booking", "booking", task.BookingID, err)
	}

	var payload taskPayload
	if task.Payload != "" {
		if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
			return fmt.Errorf("decode task payload: %w", err)
		}
	}

	if payload.Status != "" {
		b.Status = payload.Status
	}
	for _, action := range m.post[b.Status] {
		if action.name == task.Action {
			return action.run(ctx, b, payload.PreviousStatus)
		}
	}
	return fmt.Errorf("%w: action %q does not apply to status %s", ErrUnknownAction, task.Action, b.Status)
}
