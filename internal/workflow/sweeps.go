package workflow

import (
	"context"
	"errors"
	"time"

	"seasonbook/internal/domain"
	"seasonbook/internal/logging"
	"seasonbook/internal/metrics"
	"seasonbook/internal/models"
	"seasonbook/internal/pricing"
)

const (
	SweepAutoConfirm   = "auto_confirm"
	SweepAutoComplete  = "auto_complete"
	SweepCancelExpired = "cancel_expired"
	SweepAutoNoShow    = "auto_no_show"
)

// SweepFailure records one booking a sweep could not move.
type SweepFailure struct {
	BookingID int64
	Reference string
	Err       error
}

type SweepResult struct {
	Sweep      string
	Candidates int
	Processed  int
	Skipped    int
	Failed     int
	Failures   []SweepFailure
}

type sweep struct {
	name   string
	filter func(now time.Time) models.BookingFilter
	// eligible narrows the candidates the filter cannot express in a query.
	eligible func(b *models.Booking) bool
	target   models.Status
	reason   string
}

func (m *Machine) sweeps() []sweep {
	return []sweep{
		{
			name: SweepAutoConfirm,
			filter: func(time.Time) models.BookingFilter {
				return models.BookingFilter{Statuses: []models.Status{models.StatusPending}}
			},
			eligible: func(b *models.Booking) bool {
				return b.TotalPrice > 0 && b.PaidAmount() >= pricing.Round2(b.TotalPrice*m.cfg.AutoConfirmMinPaidRatio)
			},
			target: models.StatusConfirmed,
		},
		{
			name: SweepAutoComplete,
			filter: func(now time.Time) models.BookingFilter {
				today := models.DateOnly(now)
				return models.BookingFilter{Statuses: []models.Status{models.StatusPaid}, EndBefore: &today}
			},
			target: models.StatusCompleted,
		},
		{
			name: SweepCancelExpired,
			filter: func(now time.Time) models.BookingFilter {
				cutoff := now.Add(-m.cfg.PendingTTL)
				return models.BookingFilter{Statuses: []models.Status{models.StatusPending}, CreatedBefore: &cutoff}
			},
			target: models.StatusCancelled,
			reason: "pending booking expired",
		},
		{
			name: SweepAutoNoShow,
			filter: func(now time.Time) models.BookingFilter {
				today := models.DateOnly(now)
				return models.BookingFilter{Statuses: []models.Status{models.StatusConfirmed}, EndBefore: &today}
			},
			target: models.StatusNoShow,
			reason: "client did not show up",
		},
	}
}

// AutoConfirm confirms pending bookings whose completed payments reach the configured share
// of the total. Fully paid bookings continue to paid.
func (m *Machine) AutoConfirm(ctx context.Context) (*SweepResult, error) {
	return m.runSweep(ctx, m.sweepByName(SweepAutoConfirm))
}

func (m *Machine) AutoComplete(ctx context.Context) (*SweepResult, error) {
	return m.runSweep(ctx, m.sweepByName(SweepAutoComplete))
}

func (m *Machine) CancelExpired(ctx context.Context) (*SweepResult, error) {
	return m.runSweep(ctx, m.sweepByName(SweepCancelExpired))
}

func (m *Machine) AutoNoShow(ctx context.Context) (*SweepResult, error) {
	return m.runSweep(ctx, m.sweepByName(SweepAutoNoShow))
}

// RunSweeps runs every sweep in order. A sweep that cannot list candidates does not stop the others.
func (m *Machine) RunSweeps(ctx context.Context) ([]*SweepResult, error) {
	var (
		results []*SweepResult
		errs    []error
	)
	for _, s := range m.sweeps() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := m.runSweep(ctx, s)
		if err != nil {
			errs = append(errs, err)
		}
		if res != nil {
			results = append(results, res)
		}
	}
	return results, errors.Join(errs...)
}

func (m *Machine) sweepByName(name string) sweep {
	for _, s := range m.sweeps() {
		if s.name == name {
			return s
		}
	}
	panic("workflow: unknown sweep " + name)
}

func (m *Machine) runSweep(ctx context.Context, s sweep) (*SweepResult, error) {
	now := m.clock.Now()
	res := &SweepResult{Sweep: s.name}
	log := m.logger.With().Str("sweep", s.name).Logger()

	scopes, err := m.store.ListScopes(ctx)
	if err != nil {
		return res, domain.FromStore("list scopes", "scope", 0, err)
	}

	for _, scope := range scopes {
		scopeLog := logging.WithScope(&log, scope)
		candidates, err := m.candidates(ctx, scope, s.filter(now))
		if err != nil {
			scopeLog.Error().Err(err).Msg("list sweep candidates failed")
			res.Failed++
			continue
		}

		for _, b := range candidates {
			if err := ctx.Err(); err != nil {
				metrics.AddSweep(s.name, res.Processed, res.Failed)
				return res, err
			}
			if s.eligible != nil && !s.eligible(b) {
				continue
			}
			res.Candidates++
			m.sweepOne(ctx, s, b, res)
		}
	}

	metrics.AddSweep(s.name, res.Processed, res.Failed)
	log.Info().
		Int("candidates", res.Candidates).
		Int("processed", res.Processed).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("sweep finished")
	return res, nil
}

func (m *Machine) sweepOne(ctx context.Context, s sweep, b *models.Booking, res *SweepResult) {
	updated, err := m.ChangeStatus(ctx, b, s.target, s.reason)
	if err == nil && s.name == SweepAutoConfirm && updated.IsFullyPaid() {
		if _, perr := m.ChangeStatus(ctx, updated, models.StatusPaid, ""); perr != nil {
			m.logger.Warn().Err(perr).Int64("booking_id", b.ID).Msg("fully paid booking left confirmed")
		}
	}

	switch {
	case err == nil:
		res.Processed++
	case domain.IsExpected(err):
		// Moved by someone else or blocked by a pre-check; the next run sees the new state.
		res.Skipped++
		m.logger.Debug().Err(err).Str("sweep", s.name).Int64("booking_id", b.ID).Msg("sweep skipped booking")
	default:
		res.Failed++
		res.Failures = append(res.Failures, SweepFailure{BookingID: b.ID, Reference: b.Reference, Err: err})
		m.logger.Error().Err(err).Str("sweep", s.name).Int64("booking_id", b.ID).Msg("sweep failed for booking")
	}
}

// candidates loads every page up front so transitions made during the sweep do not shift paging.
func (m *Machine) candidates(ctx context.Context, scope models.Scope, filter models.BookingFilter) ([]*models.Booking, error) {
	filter.Limit = models.MaxPageSize
	var out []*models.Booking
	for page := 1; ; page++ {
		filter.Page = page
		result, err := m.store.ListBookings(ctx, scope, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, result.Items...)
		if page >= result.TotalPages {
			return out, nil
		}
	}
}
