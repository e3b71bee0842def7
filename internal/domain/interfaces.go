package domain

import (
	"context"
	"time"

	"seasonbook/internal/models"
)

// BookingStore is the scoped persistence surface for the booking aggregate.
// Every method filters by season and school; no call may cross scopes.
type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	UpdateBooking(ctx context.Context, booking *models.Booking, opts models.SyncOptions) error
	GetBooking(ctx context.Context, scope models.Scope, id int64) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, scope models.Scope, reference string) (*models.Booking, error)
	ListBookings(ctx context.Context, scope models.Scope, filter models.BookingFilter) (*models.BookingPage, error)
	ApplyStatusChange(ctx context.Context, scope models.Scope, change models.StatusChange) error
	TombstoneBooking(ctx context.Context, scope models.Scope, id int64, at time.Time) error
	SyncExtras(ctx context.Context, scope models.Scope, bookingID int64, extras []models.BookingExtra) ([]models.BookingExtra, error)
	SyncEquipment(ctx context.Context, scope models.Scope, bookingID int64, equipment []models.BookingEquipment) ([]models.BookingEquipment, error)
	UpdateEquipment(ctx context.Context, scope models.Scope, equipment *models.BookingEquipment) error
	ReleaseEquipment(ctx context.Context, scope models.Scope, bookingID int64) error
	AddPayment(ctx context.Context, scope models.Scope, payment *models.BookingPayment) error
	UpdatePayment(ctx context.Context, scope models.Scope, payment *models.BookingPayment) error
	GetStats(ctx context.Context, scope models.Scope, now time.Time) (*models.BookingStats, error)
	ListOutstandingEquipment(ctx context.Context, scope models.Scope, now time.Time) ([]models.OutstandingRental, error)
	CountCompletedBookings(ctx context.Context, scope models.Scope, clientID int64) (int, error)
	ListScopes(ctx context.Context) ([]models.Scope, error)
}

// ResourceStore exposes the catalog and the overlap queries the availability checker runs.
type ResourceStore interface {
	GetCourse(ctx context.Context, scope models.Scope, id int64) (*models.Course, error)
	GetMonitor(ctx context.Context, scope models.Scope, id int64) (*models.Monitor, error)
	GetEquipmentInventory(ctx context.Context, scope models.Scope, equipmentType string) (*models.EquipmentInventory, error)
	FindOverlapping(ctx context.Context, scope models.Scope, q models.OverlapQuery) ([]*models.Booking, error)
}

// CatalogStore seeds and maintains catalog rows.
type CatalogStore interface {
	SaveCourse(ctx context.Context, course *models.Course) error
	SaveMonitor(ctx context.Context, monitor *models.Monitor) error
	SaveEquipmentInventory(ctx context.Context, inv *models.EquipmentInventory) error
}

// TaskQueue persists post-transition actions that failed and need a retry.
type TaskQueue interface {
	CreatePostActionTask(ctx context.Context, task *models.PostActionTask) error
	GetPendingPostActionTasks(ctx context.Context, limit int) ([]models.PostActionTask, error)
	UpdatePostActionTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Repository is the full Persistence Gateway.
type Repository interface {
	BookingStore
	ResourceStore
	CatalogStore
	TaskQueue
}

// ResourceLocker serializes check-then-persist sequences per resource key.
type ResourceLocker interface {
	Lock(ctx context.Context, keys []string) (unlock func(), err error)
}

type AvailabilityChecker interface {
	Check(ctx context.Context, req models.AvailabilityRequest) (*models.AvailabilityResult, error)
}

type PriceCalculator interface {
	Calculate(ctx context.Context, req models.PriceRequest) (*models.PriceBreakdown, error)
}

type StatusChanger interface {
	ChangeStatus(ctx context.Context, booking *models.Booking, to models.Status, reason string) (*models.Booking, error)
}

// LoyaltyProvider returns a discount rate (0.05 = 5%) for a returning client.
type LoyaltyProvider interface {
	LoyaltyRate(ctx context.Context, scope models.Scope, clientID int64) (float64, error)
}

// DemandProvider returns course occupancy in [0,1] for a date.
type DemandProvider interface {
	Occupancy(ctx context.Context, scope models.Scope, courseID int64, date time.Time) (float64, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns T. Useful for sweeps replayed at a given instant and for tests.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }
