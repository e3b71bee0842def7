package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"seasonbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testScope = models.Scope{SeasonID: 1, SchoolID: 10}

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.New(os.Stdout).Level(zerolog.WarnLevel)
	db, err := NewDB(":memory:", &logger)
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

func newTestBooking(ref string) *models.Booking {
	return &models.Booking{
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
		Status:           models.StatusPending,
		BasePrice:        100,
		TaxAmount:        21,
		TotalPrice:       121,
		Currency:         "EUR",
	}
}

func TestNewDB(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("in memory", func(t *testing.T) {
		db, err := NewDB(":memory:", &logger)
		require.NoError(t, err)
		defer db.Close()
		assert.NoError(t, db.Ping())
	})

	t.Run("file creates directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "bookings.db")
		db, err := NewDB(path, &logger)
		require.NoError(t, err)
		defer db.Close()

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("nil logger", func(t *testing.T) {
		db, err := NewDB(":memory:", nil)
		require.NoError(t, err)
		db.Close()
	})
}

func TestCreateAndGetBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("BK-AAAA0001")
	b.Extras = []models.BookingExtra{{Name: "Lunch", UnitPrice: 12.5, Quantity: 2, Active: true}}
	b.Equipment = []models.BookingEquipment{{EquipmentType: "ski", Name: "Ski set", Size: "170", DailyRate: 20, RentalDays: 1}}
	b.Payments = []models.BookingPayment{{Amount: 50, PaymentType: models.PaymentCharge, Status: models.PaymentCompleted}}

	require.NoError(t, db.CreateBooking(ctx, b))
	require.NotZero(t, b.ID)
	assert.Equal(t, int64(1), b.Version)
	assert.Equal(t, 25.0, b.Extras[0].TotalPrice)

	got, err := db.GetBooking(ctx, testScope, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Reference, got.Reference)
	assert.Equal(t, models.TypeCourse, got.Type)
	assert.Equal(t, int64(100), *got.CourseID)
	assert.Nil(t, got.MonitorID)
	assert.True(t, got.StartDate.Equal(date("2026-01-10")))
	assert.Equal(t, "09:00", got.StartTime)
	assert.Equal(t, 121.0, got.TotalPrice)
	require.Len(t, got.Extras, 1)
	assert.Equal(t, "Lunch", got.Extras[0].Name)
	require.Len(t, got.Equipment, 1)
	assert.Equal(t, "170", got.Equipment[0].Size)
	assert.Nil(t, got.Equipment[0].RentedAt)
	require.Len(t, got.Payments, 1)
	assert.Equal(t, 50.0, got.PaidAmount())

	byRef, err := db.GetBookingByReference(ctx, testScope, "BK-AAAA0001")
	require.NoError(t, err)
	assert.Equal(t, b.ID, byRef.ID)
}

func TestScopeIsolation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("BK-SCOPE001")
	require.NoError(t, db.CreateBooking(ctx, b))

	other := models.Scope{SeasonID: 1, SchoolID: 11}

	_, err := db.GetBooking(ctx, other, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.GetBookingByReference(ctx, other, b.Reference)
	assert.ErrorIs(t, err, ErrNotFound)

	page, err := db.ListBookings(ctx, other, models.BookingFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)

	_, err = db.SyncExtras(ctx, other, b.ID, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, db.TombstoneBooking(ctx, other, b.ID, time.Now()), ErrNotFound)

	// same reference is allowed in another school
	dup := newTestBooking("BK-SCOPE001")
	dup.SchoolID = other.SchoolID
	assert.NoError(t, db.CreateBooking(ctx, dup))
}

func TestDuplicateReference(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateBooking(ctx, newTestBooking("BK-DUP00001")))

	second := newTestBooking("BK-DUP00001")
	err := db.CreateBooking(ctx, second)
	assert.ErrorIs(t, err, ErrDuplicateReference)
	assert.Zero(t, second.ID)
}

func TestUpdateBookingVersion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("BK-VER00001")
	require.NoError(t, db.CreateBooking(ctx, b))

	stale := *b

	b.Notes = "first edit"
	b.ParticipantCount = 3
	require.NoError(t, db.UpdateBooking(ctx, b, models.SyncOptions{}))
	assert.Equal(t, int64(2), b.Version)

	stale.Notes = "lost update"
	err := db.UpdateBooking(ctx, &stale, models.SyncOptions{})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err := db.GetBooking(ctx, testScope, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "first edit", got.Notes)
	assert.Equal(t, 3, got.ParticipantCount)

	missing := newTestBooking("BK-MISSING1")
	missing.ID = 9999
	missing.Version = 1
	assert.ErrorIs(t, db.UpdateBooking(ctx, missing, models.SyncOptions{}), ErrNotFound)
}

func TestUpdateBookingSyncsNested(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("BK-NEST0001")
	b.Extras = []models.BookingExtra{
		{Name: "Lunch", UnitPrice: 10, Quantity: 1, Active: true},
		{Name: "Photos", UnitPrice: 15, Quantity: 1, Active: true},
	}
	require.NoError(t, db.CreateBooking(ctx, b))

	b.Extras = []models.BookingExtra{
		{ID: b.Extras[0].ID, Name: "Lunch", UnitPrice: 10, Quantity: 3, Active: true},
		{Name: "Video", UnitPrice: 30, Quantity: 1, Active: true},
	}
	require.NoError(t, db.UpdateBooking(ctx, b, models.SyncOptions{Extras: true}))

	got, err := db.GetBooking(ctx, testScope, b.ID)
	require.NoError(t, err)
	require.Len(t, got.Extras, 2)
	assert.Equal(t, "Lunch", got.Extras[0].Name)
	assert.Equal(t, 30.0, got.Extras[0].TotalPrice)
	assert.Equal(t, "Video", got.Extras[1].Name)
}

func TestSyncExtrasIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("BK-SYNC0001")
	require.NoError(t, db.CreateBooking(ctx, b))

	payload := []models.BookingExtra{
		{Name: "Lunch", UnitPrice: 12, Quantity: 2, Active: true},
		{Name: "Insurance card", UnitPrice: 5, Quantity: 1, Required: true, Active: true},
	}

	first, err := db.SyncExtras(ctx, testScope, b.ID, payload)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := db.SyncExtras(ctx, testScope, b.ID, payload)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[1].ID, second[1].ID)

	third, err := db.SyncExtras(ctx, testScope, b.ID, []models.BookingExtra{first[1]})
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, "Insurance card", third[0].Name)

	empty, err := db.SyncExtras(ctx, testScope, b.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSyncEquipmentPreservesRentalState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("BK-EQSY0001")
	b.Equipment = []models.BookingEquipment{
		{EquipmentType: "ski", Name: "Ski", Size: "170", DailyRate: 20, RentalDays: 2},
		{EquipmentType: "helmet", Name: "Helmet", Size: "M", DailyRate: 5, RentalDays: 2},
	}
	require.NoError(t, db.CreateBooking(ctx, b))

	ski := b.Equipment[0]
	rentedAt := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, ski.MarkAsRented(models.ConditionGood, rentedAt))
	require.NoError(t, db.UpdateEquipment(ctx, testScope, &ski))

	payload := []models.BookingEquipment{
		{EquipmentType: "ski", Name: "Ski", Size: "170", DailyRate: 25, RentalDays: 2},
		{EquipmentType: "boots", Name: "Boots", Size: "42", DailyRate: 8, RentalDays: 2},
	}
	synced, err := db.SyncEquipment(ctx, testScope, b.ID, payload)
	require.NoError(t, err)
	require.Len(t, synced, 2)

	assert.Equal(t, ski.ID, synced[0].ID)
	assert.Equal(t, 50.0, synced[0].TotalPrice)
	require.NotNil(t, synced[0].RentedAt)
	assert.True(t, synced[0].RentedAt.Equal(rentedAt))
	assert.Equal(t, models.ConditionGood, synced[0].ConditionOut)
	assert.Equal(t, "boots", synced[1].EquipmentType)

	again, err := db.SyncEquipment(ctx, testScope, b.ID, payload)
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestApplyStatusChange(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("BK-STAT0001")
	b.Equipment = []models.BookingEquipment{{EquipmentType: "ski", Name: "Ski", DailyRate: 20, RentalDays: 1}}
	require.NoError(t, db.CreateBooking(ctx, b))

	at := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	err := db.ApplyStatusChange(ctx, testScope, models.StatusChange{
		BookingID:        b.ID,
		FromStatus:       models.StatusPending,
		ToStatus:         models.StatusConfirmed,
		Version:          b.Version,
		At:               at,
		ReserveEquipment: true,
	})
	require.NoError(t, err)

	got, err := db.GetBooking(ctx, testScope, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
	assert.True(t, got.ConfirmedAt.Equal(at))
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.Equipment[0].ReservedAt)

	// replaying the same change loses the race
	err = db.ApplyStatusChange(ctx, testScope, models.StatusChange{
		BookingID:  b.ID,
		FromStatus: models.StatusPending,
		ToStatus:   models.StatusCancelled,
		Version:    b.Version,
		At:         at,
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	refund := 60.5
	err = db.ApplyStatusChange(ctx, testScope, models.StatusChange{
		BookingID:    b.ID,
		FromStatus:   models.StatusConfirmed,
		ToStatus:     models.StatusCancelled,
		Version:      got.Version,
		At:           at.Add(time.Hour),
		Reason:       "weather",
		RefundAmount: &refund,
	})
	require.NoError(t, err)

	require.NoError(t, db.ReleaseEquipment(ctx, testScope, b.ID))

	got, err = db.GetBooking(ctx, testScope, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "weather", got.CancellationReason)
	assert.Equal(t, 60.5, got.RefundAmount)
	assert.NotNil(t, got.CancelledAt)
	assert.Nil(t, got.Equipment[0].ReservedAt)
}

func TestTombstoneBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("BK-TOMB0001")
	require.NoError(t, db.CreateBooking(ctx, b))

	require.NoError(t, db.TombstoneBooking(ctx, testScope, b.ID, time.Now()))
	assert.ErrorIs(t, db.TombstoneBooking(ctx, testScope, b.ID, time.Now()), ErrNotFound)

	_, err := db.GetBooking(ctx, testScope, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	page, err := db.ListBookings(ctx, testScope, models.BookingFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)

	page, err = db.ListBookings(ctx, testScope, models.BookingFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.True(t, page.Items[0].Tombstoned)

	overlapping, err := db.FindOverlapping(ctx, testScope, models.OverlapQuery{
		CourseID: 100, From: date("2026-01-01"), To: date("2026-01-31"),
	})
	require.NoError(t, err)
	assert.Empty(t, overlapping)
}

func TestFindOverlapping(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	mk := func(ref, start, end string, status models.Status, equipment ...string) *models.Booking {
		b := newTestBooking(ref)
		b.StartDate = date(start)
		b.EndDate = date(end)
		b.Status = status
		for _, e := range equipment {
			b.Equipment = append(b.Equipment, models.BookingEquipment{EquipmentType: e, Name: e, DailyRate: 10, RentalDays: 1})
		}
		require.NoError(t, db.CreateBooking(ctx, b))
		return b
	}

	a := mk("BK-OVL00001", "2026-01-08", "2026-01-10", models.StatusConfirmed, "ski")
	mk("BK-OVL00002", "2026-01-11", "2026-01-12", models.StatusConfirmed)
	mk("BK-OVL00003", "2026-01-09", "2026-01-09", models.StatusCancelled, "ski")
	d := mk("BK-OVL00004", "2026-01-10", "2026-01-15", models.StatusPending)

	holding := []models.Status{models.StatusPending, models.StatusConfirmed, models.StatusPaid}

	got, err := db.FindOverlapping(ctx, testScope, models.OverlapQuery{
		CourseID: 100, From: date("2026-01-10"), To: date("2026-01-10"), Statuses: holding,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, d.ID, got[1].ID)

	got, err = db.FindOverlapping(ctx, testScope, models.OverlapQuery{
		CourseID: 100, From: date("2026-01-10"), To: date("2026-01-10"), Statuses: holding, ExcludeID: a.ID,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d.ID, got[0].ID)

	got, err = db.FindOverlapping(ctx, testScope, models.OverlapQuery{
		EquipmentType: "ski", From: date("2026-01-09"), To: date("2026-01-09"), Statuses: holding,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
	require.Len(t, got[0].Equipment, 1)

	got, err = db.FindOverlapping(ctx, testScope, models.OverlapQuery{
		CourseID: 100, From: date("2026-01-16"), To: date("2026-01-20"), Statuses: holding,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListBookingsFilters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i, st := range []models.Status{models.StatusPending, models.StatusConfirmed, models.StatusPending, models.StatusPaid, models.StatusPending} {
		b := newTestBooking("BK-LIST000" + string(rune('1'+i)))
		b.Status = st
		b.ClientID = int64(i % 2)
		if i == 4 {
			b.Type = models.TypeMaterial
			b.CourseID = nil
			b.Notes = "family trip"
		}
		require.NoError(t, db.CreateBooking(ctx, b))
	}

	page, err := db.ListBookings(ctx, testScope, models.BookingFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Items, 2)

	page, err = db.ListBookings(ctx, testScope, models.BookingFilter{Limit: 2, Page: 3})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	page, err = db.ListBookings(ctx, testScope, models.BookingFilter{Statuses: []models.Status{models.StatusPending}})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	page, err = db.ListBookings(ctx, testScope, models.BookingFilter{Types: []models.BookingType{models.TypeMaterial}})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = db.ListBookings(ctx, testScope, models.BookingFilter{Search: "family"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = db.ListBookings(ctx, testScope, models.BookingFilter{Search: "LIST0002"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = db.ListBookings(ctx, testScope, models.BookingFilter{ClientID: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	future := time.Now().Add(time.Hour)
	page, err = db.ListBookings(ctx, testScope, models.BookingFilter{CreatedBefore: &future})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)

	endBefore := date("2026-01-10")
	page, err = db.ListBookings(ctx, testScope, models.BookingFilter{EndBefore: &endBefore})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
}

func TestGetStatsAndOutstanding(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	statuses := []models.Status{models.StatusPaid, models.StatusCompleted, models.StatusPending, models.StatusCancelled}
	var paid *models.Booking
	for i, st := range statuses {
		b := newTestBooking("BK-STATS00" + string(rune('1'+i)))
		b.Status = st
		b.TotalPrice = float64(100 * (i + 1))
		if st == models.StatusPaid {
			b.Equipment = []models.BookingEquipment{{EquipmentType: "ski", Name: "Ski", DailyRate: 20, RentalDays: 1}}
			paid = b
		}
		require.NoError(t, db.CreateBooking(ctx, b))
	}

	ski := paid.Equipment[0]
	require.NoError(t, ski.MarkAsRented(models.ConditionGood, date("2026-01-10")))
	require.NoError(t, db.UpdateEquipment(ctx, testScope, &ski))

	now := date("2026-01-13")
	stats, err := db.GetStats(ctx, testScope, now)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.StatusPaid])
	assert.Equal(t, 4, stats.ByType[models.TypeCourse])
	assert.Equal(t, 300.0, stats.Revenue)
	assert.Equal(t, 300.0, stats.PendingRevenue)
	assert.Equal(t, 200.0, stats.AverageValue)
	assert.Equal(t, 6, stats.TotalParticipants)
	assert.Equal(t, 0.25, stats.CancellationRate)
	assert.Equal(t, 1, stats.OutstandingRentals)

	outstanding, err := db.ListOutstandingEquipment(ctx, testScope, now)
	require.NoError(t, err)
	require.Len(t, outstanding, 1)
	assert.Equal(t, paid.ID, outstanding[0].BookingID)
	assert.Equal(t, paid.Reference, outstanding[0].Reference)
	assert.Equal(t, 3, outstanding[0].DaysOverdue)
	assert.Equal(t, "ski", outstanding[0].Equipment.EquipmentType)

	count, err := db.CountCompletedBookings(ctx, testScope, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	scopes, err := db.ListScopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Scope{testScope}, scopes)
}

func TestPayments(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("BK-PAY00001")
	require.NoError(t, db.CreateBooking(ctx, b))

	p := &models.BookingPayment{BookingID: b.ID, Amount: 121, PaymentType: models.PaymentCharge, Status: models.PaymentPending, PaymentMethod: "card"}
	require.NoError(t, db.AddPayment(ctx, testScope, p))
	require.NotZero(t, p.ID)

	processed := time.Now().UTC()
	p.Status = models.PaymentCompleted
	p.ProcessedAt = &processed
	p.GatewayTransactionID = "tx-1"
	require.NoError(t, db.UpdatePayment(ctx, testScope, p))

	got, err := db.GetBooking(ctx, testScope, b.ID)
	require.NoError(t, err)
	require.Len(t, got.Payments, 1)
	assert.Equal(t, "tx-1", got.Payments[0].GatewayTransactionID)
	assert.True(t, got.IsFullyPaid())
	assert.Equal(t, int64(3), got.Version)

	other := &models.BookingPayment{BookingID: b.ID, Amount: 1, PaymentType: models.PaymentCharge, Status: models.PaymentPending}
	assert.ErrorIs(t, db.AddPayment(ctx, models.Scope{SeasonID: 2, SchoolID: 10}, other), ErrNotFound)
}

func TestCatalog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	course := &models.Course{SeasonID: 1, SchoolID: 10, Name: "Kids group", MaxParticipants: 8, PricePerPerson: 45, IsActive: true}
	require.NoError(t, db.SaveCourse(ctx, course))
	require.NotZero(t, course.ID)

	got, err := db.GetCourse(ctx, testScope, course.ID)
	require.NoError(t, err)
	assert.Equal(t, "course", got.Kind)
	assert.Equal(t, 8, got.MaxParticipants)

	course.MaxParticipants = 10
	require.NoError(t, db.SaveCourse(ctx, course))
	got, err = db.GetCourse(ctx, testScope, course.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.MaxParticipants)

	_, err = db.GetCourse(ctx, models.Scope{SeasonID: 1, SchoolID: 99}, course.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	monitor := &models.Monitor{ID: 5, SeasonID: 1, SchoolID: 10, Name: "Ana", IsActive: true}
	require.NoError(t, db.SaveMonitor(ctx, monitor))
	m, err := db.GetMonitor(ctx, testScope, 5)
	require.NoError(t, err)
	assert.Equal(t, "Ana", m.Name)

	restock := date("2026-01-20")
	inv := &models.EquipmentInventory{SeasonID: 1, SchoolID: 10, EquipmentType: "ski", Name: "Ski", TotalUnits: 3, DailyRate: 20, RestockDate: &restock}
	require.NoError(t, db.SaveEquipmentInventory(ctx, inv))
	inv.TotalUnits = 4
	require.NoError(t, db.SaveEquipmentInventory(ctx, inv))

	gotInv, err := db.GetEquipmentInventory(ctx, testScope, "ski")
	require.NoError(t, err)
	assert.Equal(t, 4, gotInv.TotalUnits)
	require.NotNil(t, gotInv.RestockDate)
	assert.True(t, gotInv.RestockDate.Equal(restock))

	_, err = db.GetEquipmentInventory(ctx, testScope, "snowboard")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostActionQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.PostActionTask{Action: "notify", SeasonID: 1, SchoolID: 10, BookingID: 42, Payload: `{"x":1}`}
	require.NoError(t, db.CreatePostActionTask(ctx, task))
	assert.Equal(t, models.TaskStatusPending, task.Status)

	tasks, err := db.GetPendingPostActionTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "notify", tasks[0].Action)
	assert.Nil(t, tasks[0].LastError)

	next := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdatePostActionTaskStatus(ctx, task.ID, models.TaskStatusRetry, "boom", &next))

	tasks, err = db.GetPendingPostActionTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, db.UpdatePostActionTaskStatus(ctx, task.ID, models.TaskStatusRetry, "boom again", &past))
	tasks, err = db.GetPendingPostActionTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].RetryCount)
	require.NotNil(t, tasks[0].LastError)
	assert.Equal(t, "boom again", *tasks[0].LastError)

	require.NoError(t, db.UpdatePostActionTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil))
	tasks, err = db.GetPendingPostActionTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
