package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"seasonbook/internal/config"
	"seasonbook/internal/database"
	"seasonbook/internal/domain"
	"seasonbook/internal/events"
	"seasonbook/internal/models"
	"seasonbook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testScope = models.Scope{SeasonID: 1, SchoolID: 10}

type fakeChecker struct {
	result *models.AvailabilityResult
	err    error
	calls  int
	last   models.AvailabilityRequest
}

func (c *fakeChecker) Check(_ context.Context, req models.AvailabilityRequest) (*models.AvailabilityResult, error) {
	c.calls++
	c.last = req
	if c.err != nil {
		return nil, c.err
	}
	if c.result == nil {
		return &models.AvailabilityResult{Available: true}, nil
	}
	return c.result, nil
}

type publishedEvent struct {
	Type    string
	Payload interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *fakePublisher) PublishJSON(eventType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{Type: eventType, Payload: payload})
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func setupDB(t *testing.T) *database.DB {
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func date(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func int64Ptr(v int64) *int64 { return &v }

func charge(amount float64) models.BookingPayment {
	return models.BookingPayment{
		Amount:        amount,
		PaymentMethod: "card",
		PaymentType:   models.PaymentCharge,
		Status:        models.PaymentCompleted,
	}
}

func createBooking(t *testing.T, db *database.DB, ref string, status models.Status, mutate ...func(*models.Booking)) *models.Booking {
	b := &models.Booking{
		Reference:        ref,
		SeasonID:         testScope.SeasonID,
		SchoolID:         testScope.SchoolID,
		Type:             models.TypeCourse,
		ClientID:         7,
		CourseID:         int64Ptr(100),
		ParticipantCount: 2,
		StartDate:        date("2026-01-10"),
		EndDate:          date("2026-01-10"),
		StartTime:        "09:00",
		EndTime:          "12:00",
		Status:           status,
		BasePrice:        100,
		TotalPrice:       100,
		Currency:         "EUR",
	}
	for _, fn := range mutate {
		fn(b)
	}
	require.NoError(t, db.CreateBooking(context.Background(), b))
	loaded, err := db.GetBooking(context.Background(), b.Scope(), b.ID)
	require.NoError(t, err)
	return loaded
}

func newMachine(db *database.DB, checker domain.AvailabilityChecker, pub domain.EventPublisher, now time.Time) *Machine {
	return NewMachine(db, checker, config.WorkflowConfig{},
		WithPublisher(pub),
		WithTaskQueue(db),
		WithClock(domain.FixedClock{T: now}),
		WithLocker(repository.NewMemoryLocker(time.Second)),
	)
}

func TestCanTransition(t *testing.T) {
	legal := [][2]models.Status{
		{models.StatusPending, models.StatusConfirmed},
		{models.StatusPending, models.StatusCancelled},
		{models.StatusConfirmed, models.StatusPaid},
		{models.StatusConfirmed, models.StatusCancelled},
		{models.StatusConfirmed, models.StatusNoShow},
		{models.StatusPaid, models.StatusCompleted},
		{models.StatusPaid, models.StatusNoShow},
	}
	allowed := make(map[[2]models.Status]bool)
	for _, pair := range legal {
		allowed[pair] = true
	}

	for _, from := range models.AllStatuses {
		for _, to := range models.AllStatuses {
			assert.Equal(t, allowed[[2]models.Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	for _, terminal := range []models.Status{models.StatusCompleted, models.StatusCancelled, models.StatusNoShow} {
		assert.Empty(t, NextStatuses(terminal))
	}
}

func TestChangeStatusRejectsIllegalTransition(t *testing.T) {
	db := setupDB(t)
	pub := &fakePublisher{}
	m := newMachine(db, &fakeChecker{}, pub, date("2026-01-01"))

	b := createBooking(t, db, "BK-DONE0001", models.StatusCompleted)

	_, err := m.ChangeStatus(context.Background(), b, models.StatusConfirmed, "")
	var st *domain.StatusTransitionError
	require.ErrorAs(t, err, &st)
	assert.Equal(t, models.StatusCompleted, st.From)
	assert.Equal(t, models.StatusConfirmed, st.To)

	reloaded, err := db.GetBooking(context.Background(), b.Scope(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, reloaded.Status)
	assert.Empty(t, pub.types())

	_, err = m.ChangeStatus(context.Background(), b, models.Status("archived"), "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestConfirmReservesEquipment(t *testing.T) {
	db := setupDB(t)
	pub := &fakePublisher{}
	checker := &fakeChecker{}
	m := newMachine(db, checker, pub, date("2026-01-01"))

	b := createBooking(t, db, "BK-EQUIP001", models.StatusPending, func(b *models.Booking) {
		b.Equipment = []models.BookingEquipment{
			{EquipmentType: "ski", Name: "Ski 170", DailyRate: 20, RentalDays: 1, TotalPrice: 20},
			{EquipmentType: "ski", Name: "Ski 160", DailyRate: 20, RentalDays: 1, TotalPrice: 20},
		}
	})

	updated, err := m.ChangeStatus(context.Background(), b, models.StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, updated.Status)
	assert.Equal(t, b.Version+1, updated.Version)
	require.NotNil(t, updated.ConfirmedAt)

	assert.Equal(t, 1, checker.calls)
	assert.Equal(t, b.ID, checker.last.ExcludeBookingID)
	assert.Equal(t, []models.EquipmentRequest{{EquipmentType: "ski", Quantity: 2}}, checker.last.Equipment)

	reloaded, err := db.GetBooking(context.Background(), b.Scope(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, reloaded.Status)
	assert.Equal(t, updated.Version, reloaded.Version)
	for _, e := range reloaded.Equipment {
		assert.NotNil(t, e.ReservedAt)
	}
	assert.Equal(t, []string{events.EventBookingConfirmed}, pub.types())
}

func TestConfirmBlockedByAvailability(t *testing.T) {
	db := setupDB(t)
	checker := &fakeChecker{result: &models.AvailabilityResult{
		Available: false,
		Conflicts: []models.Conflict{{Type: models.ConflictCapacityExceeded, Message: "course is full"}},
	}}
	m := newMachine(db, checker, &fakePublisher{}, date("2026-01-01"))

	b := createBooking(t, db, "BK-FULL0001", models.StatusPending)

	_, err := m.ChangeStatus(context.Background(), b, models.StatusConfirmed, "")
	var av *domain.AvailabilityError
	require.ErrorAs(t, err, &av)
	assert.Len(t, av.Conflicts, 1)

	reloaded, err := db.GetBooking(context.Background(), b.Scope(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reloaded.Status)
}

func TestConfirmWaitsForResourceLock(t *testing.T) {
	db := setupDB(t)
	locker := repository.NewMemoryLocker(50 * time.Millisecond)
	m := NewMachine(db, &fakeChecker{}, config.WorkflowConfig{}, WithLocker(locker))

	b := createBooking(t, db, "BK-LOCK0001", models.StatusPending)

	unlock, err := locker.Lock(context.Background(), repository.BookingLockKeys(b))
	require.NoError(t, err)

	_, err = m.ChangeStatus(context.Background(), b, models.StatusConfirmed, "")
	assert.ErrorIs(t, err, repository.ErrLockTimeout)

	unlock()
	_, err = m.ChangeStatus(context.Background(), b, models.StatusConfirmed, "")
	assert.NoError(t, err)
}

func TestPaidRequiresFullPayment(t *testing.T) {
	db := setupDB(t)
	m := newMachine(db, &fakeChecker{}, &fakePublisher{}, date("2026-01-01"))

	b := createBooking(t, db, "BK-PART0001", models.StatusConfirmed, func(b *models.Booking) {
		b.Payments = []models.BookingPayment{charge(60)}
	})

	_, err := m.ChangeStatus(context.Background(), b, models.StatusPaid, "")
	var st *domain.StatusTransitionError
	require.ErrorAs(t, err, &st)
	assert.Contains(t, st.Reason, "60.00 below total 100.00")

	full := createBooking(t, db, "BK-FULL0002", models.StatusConfirmed, func(b *models.Booking) {
		b.Payments = []models.BookingPayment{charge(60), charge(40)}
	})
	updated, err := m.ChangeStatus(context.Background(), full, models.StatusPaid, "")
	require.NoError(t, err)
	assert.NotNil(t, updated.PaidAt)
}

func TestCancelComputesRefund(t *testing.T) {
	db := setupDB(t)
	pub := &fakePublisher{}
	// Booking starts 2026-01-10 09:00; 100 hours before is inside the 72h tier.
	now := date("2026-01-10").Add(9*time.Hour - 100*time.Hour)
	m := newMachine(db, &fakeChecker{}, pub, now)

	b := createBooking(t, db, "BK-CANC0001", models.StatusConfirmed, func(b *models.Booking) {
		b.Payments = []models.BookingPayment{charge(50)}
		b.Equipment = []models.BookingEquipment{{EquipmentType: "ski", Name: "Ski", DailyRate: 10, RentalDays: 1, TotalPrice: 10}}
	})

	updated, err := m.ChangeStatus(context.Background(), b, models.StatusCancelled, "client request")
	require.NoError(t, err)
	assert.Equal(t, 25.0, updated.RefundAmount)
	assert.Equal(t, "client request", updated.CancellationReason)

	reloaded, err := db.GetBooking(context.Background(), b.Scope(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, reloaded.Status)
	assert.Equal(t, 25.0, reloaded.RefundAmount)
	assert.NotNil(t, reloaded.CancelledAt)
	assert.Equal(t, []string{events.EventBookingCancelled}, pub.types())
}

func TestRefundFor(t *testing.T) {
	policy := config.Default().Workflow.CancellationPolicy
	b := &models.Booking{
		StartDate: date("2026-01-10"),
		StartTime: "10:00",
		Payments:  []models.BookingPayment{charge(80)},
	}
	start := date("2026-01-10").Add(10 * time.Hour)

	cases := []struct {
		name   string
		before time.Duration
		amount float64
		rate   float64
	}{
		{"a week ahead", 200 * time.Hour, 80, 1.0},
		{"exactly a week", 168 * time.Hour, 80, 1.0},
		{"four days", 96 * time.Hour, 40, 0.5},
		{"two days", 48 * time.Hour, 20, 0.25},
		{"same day", 2 * time.Hour, 0, 0},
		{"already started", -time.Hour, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			amount, rate := RefundFor(policy, b, start.Add(-tc.before))
			assert.Equal(t, tc.amount, amount)
			assert.Equal(t, tc.rate, rate)
		})
	}
}

func TestPostActionFailureIsQueued(t *testing.T) {
	db := setupDB(t)
	pub := &fakePublisher{err: errors.New("broker down")}
	m := newMachine(db, &fakeChecker{}, pub, date("2026-01-01"))

	b := createBooking(t, db, "BK-POST0001", models.StatusPending)

	updated, err := m.ChangeStatus(context.Background(), b, models.StatusConfirmed, "")
	require.NoError(t, err, "post-action failure must not roll back the transition")
	assert.Equal(t, models.StatusConfirmed, updated.Status)

	tasks, err := db.GetPendingPostActionTasks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, ActionNotify, tasks[0].Action)
	assert.Equal(t, b.ID, tasks[0].BookingID)
	require.NotNil(t, tasks[0].LastError)
	assert.Contains(t, *tasks[0].LastError, "broker down")

	pub.err = nil
	require.NoError(t, m.RunPostAction(context.Background(), tasks[0]))
	assert.Equal(t, []string{events.EventBookingConfirmed}, pub.types())

	unknown := tasks[0]
	unknown.Action = ActionUpdateLoyalty
	assert.ErrorIs(t, m.RunPostAction(context.Background(), unknown), ErrUnknownAction)
}

func TestReplayUsesQueuedTransition(t *testing.T) {
	db := setupDB(t)
	pub := &fakePublisher{err: errors.New("broker down")}
	m := newMachine(db, &fakeChecker{}, pub, date("2026-01-01"))

	b := createBooking(t, db, "BK-POST0002", models.StatusPending, func(b *models.Booking) {
		b.Payments = []models.BookingPayment{charge(100)}
	})
	confirmed, err := m.ChangeStatus(context.Background(), b, models.StatusConfirmed, "")
	require.NoError(t, err)

	tasks, err := db.GetPendingPostActionTasks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	queued := tasks[0]

	pub.err = nil
	_, err = m.ChangeStatus(context.Background(), confirmed, models.StatusPaid, "")
	require.NoError(t, err)
	require.Equal(t, []string{events.EventBookingPaid}, pub.types())

	require.NoError(t, m.RunPostAction(context.Background(), queued))
	require.Len(t, pub.events, 2)
	assert.Equal(t, events.EventBookingConfirmed, pub.events[1].Type)
	payload, ok := pub.events[1].Payload.(events.BookingEventPayload)
	require.True(t, ok)
	assert.Equal(t, models.StatusConfirmed, payload.Status)
	assert.Equal(t, models.StatusPending, payload.PreviousStatus)
}

func TestCompletionPostActions(t *testing.T) {
	db := setupDB(t)
	pub := &fakePublisher{}
	m := newMachine(db, &fakeChecker{}, pub, date("2026-01-12"))

	b := createBooking(t, db, "BK-COMP0001", models.StatusPaid, func(b *models.Booking) {
		b.Payments = []models.BookingPayment{charge(100)}
	})

	_, err := m.ChangeStatus(context.Background(), b, models.StatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		events.EventBookingCompleted,
		events.EventLoyaltyUpdated,
		events.EventFeedbackRequested,
	}, pub.types())

	loyalty, ok := pub.events[1].Payload.(loyaltyPayload)
	require.True(t, ok)
	assert.Equal(t, 1, loyalty.CompletedBookings)
}

func TestChangeStatusStaleVersion(t *testing.T) {
	db := setupDB(t)
	m := newMachine(db, &fakeChecker{}, &fakePublisher{}, date("2026-01-01"))

	b := createBooking(t, db, "BK-STALE001", models.StatusPending)
	_, err := m.ChangeStatus(context.Background(), b, models.StatusConfirmed, "")
	require.NoError(t, err)

	_, err = m.ChangeStatus(context.Background(), b, models.StatusCancelled, "")
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
}

func TestReasonKeptOnlyForCancellationAndNoShow(t *testing.T) {
	db := setupDB(t)
	m := newMachine(db, &fakeChecker{}, &fakePublisher{}, date("2026-01-05"))

	b := createBooking(t, db, "BK-RSN00001", models.StatusPending)
	confirmed, err := m.ChangeStatus(context.Background(), b, models.StatusConfirmed, "confirmed by phone")
	require.NoError(t, err)
	assert.Empty(t, confirmed.CancellationReason)

	reloaded, err := db.GetBooking(context.Background(), b.Scope(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, reloaded.Status)
	assert.Empty(t, reloaded.CancellationReason)

	noShow, err := m.ChangeStatus(context.Background(), reloaded, models.StatusNoShow, "absent at meeting point")
	require.NoError(t, err)
	assert.Equal(t, "absent at meeting point", noShow.CancellationReason)
}
