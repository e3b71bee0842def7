package workflow

import (
	"context"
	"time"

	"seasonbook/internal/config"
	"seasonbook/internal/domain"
	"seasonbook/internal/metrics"
	"seasonbook/internal/models"
	"seasonbook/internal/repository"

	"github.com/rs/zerolog"
)

var transitions = map[models.Status][]models.Status{
	models.StatusPending:   {models.StatusConfirmed, models.StatusCancelled},
	models.StatusConfirmed: {models.StatusPaid, models.StatusCancelled, models.StatusNoShow},
	models.StatusPaid:      {models.StatusCompleted, models.StatusNoShow},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to models.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the legal targets from a status. Terminal statuses have none.
func NextStatuses(from models.Status) []models.Status {
	return append([]models.Status(nil), transitions[from]...)
}

// preAction validates a transition and may enrich the persisted change.
type preAction func(ctx context.Context, b *models.Booking, change *models.StatusChange) error

// postAction runs after the change is persisted. Its failure never rolls the transition back.
type postAction struct {
	name string
	run  func(ctx context.Context, b *models.Booking, previous models.Status) error
}

// Machine drives booking status transitions.
type Machine struct {
	store     domain.BookingStore
	checker   domain.AvailabilityChecker
	locker    domain.ResourceLocker
	publisher domain.EventPublisher
	queue     domain.TaskQueue
	cfg       config.WorkflowConfig
	clock     domain.Clock
	logger    zerolog.Logger

	pre  map[models.Status]preAction
	post map[models.Status][]postAction
}

type Option func(*Machine)

func WithLocker(l domain.ResourceLocker) Option { return func(m *Machine) { m.locker = l } }

func WithPublisher(p domain.EventPublisher) Option { return func(m *Machine) { m.publisher = p } }

func WithTaskQueue(q domain.TaskQueue) Option { return func(m *Machine) { m.queue = q } }

func WithClock(c domain.Clock) Option { return func(m *Machine) { m.clock = c } }

func WithLogger(l *zerolog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l.With().Str("component", "workflow").Logger()
		}
	}
}

func NewMachine(store domain.BookingStore, checker domain.AvailabilityChecker, cfg config.WorkflowConfig, opts ...Option) *Machine {
	cfg.ApplyDefaults()
	m := &Machine{
		store:   store,
		checker: checker,
		cfg:     cfg,
		clock:   domain.SystemClock{},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.pre = map[models.Status]preAction{
		models.StatusConfirmed: m.beforeConfirm,
		models.StatusPaid:      m.beforePaid,
		models.StatusCancelled: m.beforeCancel,
	}

	notify := postAction{name: ActionNotify, run: m.notify}
	release := postAction{name: ActionReleaseResources, run: m.releaseResources}
	m.post = map[models.Status][]postAction{
		models.StatusConfirmed: {notify},
		models.StatusPaid:      {notify},
		models.StatusCancelled: {release, notify},
		models.StatusNoShow:    {release, notify},
		models.StatusCompleted: {
			notify,
			{name: ActionUpdateLoyalty, run: m.updateLoyalty},
			{name: ActionRequestFeedback, run: m.requestFeedback},
		},
	}
	return m
}

// ChangeStatus validates and applies a transition, then runs the post-actions.
// The returned booking reflects the persisted state; the input is not modified.
func (m *Machine) ChangeStatus(ctx context.Context, b *models.Booking, to models.Status, reason string) (*models.Booking, error) {
	if b == nil {
		return nil, domain.NewValidationError("booking", "is required")
	}
	if !to.Valid() {
		return nil, domain.NewValidationError("status", "unknown status %q", to)
	}
	from := b.Status
	if !CanTransition(from, to) {
		return nil, &domain.StatusTransitionError{BookingID: b.ID, From: from, To: to, Reason: "transition not allowed"}
	}

	log := m.logger.With().
		Int64("booking_id", b.ID).
		Str("reference", b.Reference).
		Str("from", string(from)).
		Str("to", string(to)).
		Logger()

	// Confirmation re-checks availability, so it holds the resource locks until the write lands.
	if to == models.StatusConfirmed && m.locker != nil && b.HasSchedulableResource() {
		started := time.Now()
		unlock, err := m.locker.Lock(ctx, repository.BookingLockKeys(b))
		metrics.ObserveLockWait(time.Since(started))
		if err != nil {
			return nil, &domain.SystemError{Op: "lock resources", Err: err}
		}
		defer unlock()
	}

	change := models.StatusChange{
		BookingID:  b.ID,
		FromStatus: from,
		ToStatus:   to,
		Version:    b.Version,
		At:         m.clock.Now(),
	}
	if to == models.StatusCancelled || to == models.StatusNoShow {
		change.Reason = reason
	}
	if pre, ok := m.pre[to]; ok {
		if err := pre(ctx, b, &change); err != nil {
			return nil, err
		}
	}

	if err := m.store.ApplyStatusChange(ctx, b.Scope(), change); err != nil {
		err = domain.FromStore("change status", "booking", b.ID, err)
		if !domain.IsExpected(err) {
			log.Error().Err(err).Msg("persist status change failed")
		}
		return nil, err
	}
	metrics.IncStatusTransition(string(from), string(to))
	log.Info().Msg("booking status changed")

	updated := applied(b, change)
	m.runPostActions(ctx, updated, from)
	return updated, nil
}

// applied returns a copy of b with the persisted change applied.
func applied(b *models.Booking, change models.StatusChange) *models.Booking {
	out := *b
	out.Status = change.ToStatus
	out.Version++
	out.UpdatedAt = change.At

	at := change.At
	switch change.ToStatus {
	case models.StatusConfirmed:
		out.ConfirmedAt = &at
	case models.StatusPaid:
		out.PaidAt = &at
	case models.StatusCompleted:
		out.CompletedAt = &at
	case models.StatusCancelled:
		out.CancelledAt = &at
	case models.StatusNoShow:
		out.NoShowAt = &at
	}
	if change.Reason != "" {
		out.CancellationReason = change.Reason
	}
	if change.RefundAmount != nil {
		out.RefundAmount = *change.RefundAmount
	}

	out.Equipment = append([]models.BookingEquipment(nil), b.Equipment...)
	if change.ReserveEquipment {
		for i := range out.Equipment {
			e := &out.Equipment[i]
			if e.ReservedAt == nil && e.ReturnedAt == nil {
				e.ReservedAt = &at
			}
		}
	}
	return &out
}
