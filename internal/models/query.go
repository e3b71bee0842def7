package models

import "time"

type BookingFilter struct {
	Statuses       []Status
	Types          []BookingType
	ClientID       int64
	CourseID       int64
	MonitorID      int64
	StartFrom      *time.Time
	StartTo        *time.Time
	EndBefore      *time.Time
	CreatedBefore  *time.Time
	Search         string // matches reference or notes
	IncludeDeleted bool
	Page           int
	Limit          int
}

// Normalize clamps paging values.
func (f *BookingFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
}

type BookingPage struct {
	Items      []*Booking `json:"items"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalPages int        `json:"total_pages"`
}

// OverlapQuery selects live bookings whose date range intersects [From, To].
type OverlapQuery struct {
	CourseID      int64
	MonitorID     int64
	EquipmentType string
	From          time.Time
	To            time.Time
	Statuses      []Status
	ExcludeID     int64
}

// StatusChange is the persisted part of a workflow transition.
type StatusChange struct {
	BookingID        int64
	FromStatus       Status
	ToStatus         Status
	Version          int64
	At               time.Time
	Reason           string
	RefundAmount     *float64
	ReserveEquipment bool
}

// SyncOptions tells the gateway which nested collections to diff-sync on update.
type SyncOptions struct {
	Extras    bool
	Equipment bool
}

type BookingStats struct {
	Total              int                 `json:"total"`
	ByStatus           map[Status]int      `json:"by_status"`
	ByType             map[BookingType]int `json:"by_type"`
	Revenue            float64             `json:"revenue"`
	PendingRevenue     float64             `json:"pending_revenue"`
	AverageValue       float64             `json:"average_value"`
	TotalParticipants  int                 `json:"total_participants"`
	CancellationRate   float64             `json:"cancellation_rate"`
	OutstandingRentals int                 `json:"outstanding_rentals"`
}

type DamageItem struct {
	EquipmentID   int64     `json:"equipment_id"`
	EquipmentType string    `json:"equipment_type"`
	Name          string    `json:"name"`
	ConditionOut  Condition `json:"condition_out"`
	ConditionIn   Condition `json:"condition_in"`
	Steps         int       `json:"steps"`
	DamageFee     float64   `json:"damage_fee"`
}

type DamageReport struct {
	BookingID       int64        `json:"booking_id"`
	Reference       string       `json:"reference"`
	Items           []DamageItem `json:"items"`
	TotalDamageFees float64      `json:"total_damage_fees"`
	Currency        string       `json:"currency"`
}

type OutstandingRental struct {
	BookingID   int64            `json:"booking_id"`
	Reference   string           `json:"reference"`
	ClientID    int64            `json:"client_id"`
	EndDate     time.Time        `json:"end_date"`
	DaysOverdue int              `json:"days_overdue"`
	Equipment   BookingEquipment `json:"equipment"`
}

// PostActionTask is a failed post-transition side effect queued for retry.
type PostActionTask struct {
	ID          int64      `json:"id"`
	Action      string     `json:"action"`
	SeasonID    int64      `json:"season_id"`
	SchoolID    int64      `json:"school_id"`
	BookingID   int64      `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}

const (
	TaskStatusPending   = "pending"
	TaskStatusRetry     = "retry"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)
