package workflow

import (
	"context"
	"testing"
	"time"

	"seasonbook/internal/domain"
	"seasonbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusOf(t *testing.T, m *Machine, id int64) models.Status {
	b, err := m.store.GetBooking(context.Background(), testScope, id)
	require.NoError(t, err)
	return b.Status
}

func TestAutoConfirm(t *testing.T) {
	db := setupDB(t)
	m := newMachine(db, &fakeChecker{}, &fakePublisher{}, date("2026-01-01"))

	unpaid := createBooking(t, db, "BK-SWP00001", models.StatusPending)
	deposit := createBooking(t, db, "BK-SWP00002", models.StatusPending, func(b *models.Booking) {
		b.Payments = []models.BookingPayment{charge(30)}
	})
	full := createBooking(t, db, "BK-SWP00003", models.StatusPending, func(b *models.Booking) {
		b.Payments = []models.BookingPayment{charge(100)}
	})

	res, err := m.AutoConfirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 2, res.Processed)
	assert.Zero(t, res.Failed)

	assert.Equal(t, models.StatusPending, statusOf(t, m, unpaid.ID))
	assert.Equal(t, models.StatusConfirmed, statusOf(t, m, deposit.ID))
	assert.Equal(t, models.StatusPaid, statusOf(t, m, full.ID))

	// Idempotent: nothing left to move.
	res, err = m.AutoConfirm(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestAutoConfirmSkipsUnavailable(t *testing.T) {
	db := setupDB(t)
	checker := &fakeChecker{result: &models.AvailabilityResult{Conflicts: []models.Conflict{{Type: models.ConflictCapacityExceeded}}}}
	m := newMachine(db, checker, &fakePublisher{}, date("2026-01-01"))

	b := createBooking(t, db, "BK-SWP00004", models.StatusPending, func(b *models.Booking) {
		b.Payments = []models.BookingPayment{charge(50)}
	})

	res, err := m.AutoConfirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Processed)
	assert.Equal(t, models.StatusPending, statusOf(t, m, b.ID))
}

func TestAutoCompleteAndNoShow(t *testing.T) {
	db := setupDB(t)
	m := newMachine(db, &fakeChecker{}, &fakePublisher{}, date("2026-01-12"))

	past := createBooking(t, db, "BK-SWP00005", models.StatusPaid, func(b *models.Booking) {
		b.Payments = []models.BookingPayment{charge(100)}
	})
	future := createBooking(t, db, "BK-SWP00006", models.StatusPaid, func(b *models.Booking) {
		b.StartDate = date("2026-01-20")
		b.EndDate = date("2026-01-20")
	})
	today := createBooking(t, db, "BK-SWP00007", models.StatusConfirmed, func(b *models.Booking) {
		b.StartDate = date("2026-01-12")
		b.EndDate = date("2026-01-12")
	})
	missed := createBooking(t, db, "BK-SWP00008", models.StatusConfirmed)

	res, err := m.AutoComplete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, models.StatusCompleted, statusOf(t, m, past.ID))
	assert.Equal(t, models.StatusPaid, statusOf(t, m, future.ID))

	res, err = m.AutoNoShow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, models.StatusNoShow, statusOf(t, m, missed.ID))
	assert.Equal(t, models.StatusConfirmed, statusOf(t, m, today.ID))

	b, err := db.GetBooking(context.Background(), testScope, missed.ID)
	require.NoError(t, err)
	assert.Equal(t, "client did not show up", b.CancellationReason)
}

func TestCancelExpired(t *testing.T) {
	db := setupDB(t)

	// Rows are stamped with the wall clock on insert, so the sweep clock runs two days ahead.
	now := time.Now().UTC().Add(48 * time.Hour)
	m := newMachine(db, &fakeChecker{}, &fakePublisher{}, now)

	pending := createBooking(t, db, "BK-SWP00009", models.StatusPending)
	confirmed := createBooking(t, db, "BK-SWP00010", models.StatusConfirmed)

	res, err := m.CancelExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, models.StatusCancelled, statusOf(t, m, pending.ID))
	assert.Equal(t, models.StatusConfirmed, statusOf(t, m, confirmed.ID))

	// With the real clock the same booking would not have expired yet.
	m2 := newMachine(db, &fakeChecker{}, &fakePublisher{}, time.Now().UTC())
	again := createBooking(t, db, "BK-SWP00011", models.StatusPending)
	res, err = m2.CancelExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, models.StatusPending, statusOf(t, m2, again.ID))
}

func TestRunSweepsIsolatesScopes(t *testing.T) {
	db := setupDB(t)
	m := newMachine(db, &fakeChecker{}, &fakePublisher{}, date("2026-01-12"))

	createBooking(t, db, "BK-SWP00012", models.StatusConfirmed)
	other := createBooking(t, db, "BK-SWP00013", models.StatusConfirmed, func(b *models.Booking) {
		b.SchoolID = 20
	})

	results, err := m.RunSweeps(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)

	byName := make(map[string]*SweepResult)
	for _, r := range results {
		byName[r.Sweep] = r
	}
	assert.Equal(t, 2, byName[SweepAutoNoShow].Processed)

	b, err := db.GetBooking(context.Background(), models.Scope{SeasonID: 1, SchoolID: 20}, other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoShow, b.Status)
}

func TestRunSweepsStopsOnCancelledContext(t *testing.T) {
	db := setupDB(t)
	m := newMachine(db, &fakeChecker{}, &fakePublisher{}, date("2026-01-12"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.RunSweeps(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, domain.IsExpected(err))
}
