package database

import (
	"database/sql"
	"fmt"
	"time"

	"seasonbook/internal/models"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

const bookingColumns = `id, season_id, school_id, reference, type, client_id, course_id, monitor_id,
    participant_count, start_date, end_date, start_time, end_time, status,
    base_price, extras_price, equipment_price, insurance_price, discount_amount, tax_amount,
    dynamic_adjustment, total_price, currency, refund_amount, has_insurance, has_equipment,
    promo_code, notes, confirmed_at, paid_at, completed_at, cancelled_at, no_show_at,
    cancellation_reason, tombstoned, tombstoned_at, created_at, updated_at, version`

func scanBooking(row scanner) (*models.Booking, error) {
	var (
		b                        models.Booking
		bookingType, status      string
		courseID, monitorID      sql.NullInt64
		startDate, endDate       string
		confirmedAt, paidAt      sql.NullTime
		completedAt, cancelledAt sql.NullTime
		noShowAt, tombstonedAt   sql.NullTime
	)

	err := row.Scan(
		&b.ID, &b.SeasonID, &b.SchoolID, &b.Reference, &bookingType, &b.ClientID, &courseID, &monitorID,
		&b.ParticipantCount, &startDate, &endDate, &b.StartTime, &b.EndTime, &status,
		&b.BasePrice, &b.ExtrasPrice, &b.EquipmentPrice, &b.InsurancePrice, &b.DiscountAmount, &b.TaxAmount,
		&b.DynamicAdjustment, &b.TotalPrice, &b.Currency, &b.RefundAmount, &b.HasInsurance, &b.HasEquipment,
		&b.PromoCode, &b.Notes, &confirmedAt, &paidAt, &completedAt, &cancelledAt, &noShowAt,
		&b.CancellationReason, &b.Tombstoned, &tombstonedAt, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.Type = models.BookingType(bookingType)
	b.Status = models.Status(status)
	b.CourseID = nullInt64Ptr(courseID)
	b.MonitorID = nullInt64Ptr(monitorID)

	if b.StartDate, err = parseDate(startDate); err != nil {
		return nil, err
	}
	if b.EndDate, err = parseDate(endDate); err != nil {
		return nil, err
	}

	b.ConfirmedAt = nullTimePtr(confirmedAt)
	b.PaidAt = nullTimePtr(paidAt)
	b.CompletedAt = nullTimePtr(completedAt)
	b.CancelledAt = nullTimePtr(cancelledAt)
	b.NoShowAt = nullTimePtr(noShowAt)
	b.TombstonedAt = nullTimePtr(tombstonedAt)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()

	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]*models.Booking, error) {
	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func formatDate(t time.Time) string {
	return models.DateOnly(t).Format(models.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return t, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func statusArgs(statuses []models.Status) (string, []interface{}) {
	placeholders := make([]byte, 0, len(statuses)*2)
	args := make([]interface{}, 0, len(statuses))
	for i, s := range statuses {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, string(s))
	}
	return string(placeholders), args
}
