package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"seasonbook/internal/models"
)

// statusTimestampColumn maps a target status to the column stamped on entry.
var statusTimestampColumn = map[models.Status]string{
	models.StatusConfirmed: "confirmed_at",
	models.StatusPaid:      "paid_at",
	models.StatusCompleted: "completed_at",
	models.StatusCancelled: "cancelled_at",
	models.StatusNoShow:    "no_show_at",
}

// CreateBooking inserts the booking with its extras, equipment and payments in one transaction.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	now := time.Now().UTC()
	if booking.Version == 0 {
		booking.Version = 1
	}
	if booking.Status == "" {
		booking.Status = models.StatusPending
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO bookings (
                season_id, school_id, reference, type, client_id, course_id, monitor_id,
                participant_count, start_date, end_date, start_time, end_time, status,
                base_price, extras_price, equipment_price, insurance_price, discount_amount, tax_amount,
                dynamic_adjustment, total_price, currency, refund_amount, has_insurance, has_equipment,
                promo_code, notes, confirmed_at, paid_at, completed_at, cancelled_at, no_show_at,
                cancellation_reason, tombstoned, tombstoned_at, created_at, updated_at, version)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)`

		result, err := tx.ExecContext(ctx, query,
			booking.SeasonID, booking.SchoolID, booking.Reference, string(booking.Type), booking.ClientID,
			nullInt64(booking.CourseID), nullInt64(booking.MonitorID),
			booking.ParticipantCount, formatDate(booking.StartDate), formatDate(booking.EndDate),
			booking.StartTime, booking.EndTime, string(booking.Status),
			booking.BasePrice, booking.ExtrasPrice, booking.EquipmentPrice, booking.InsurancePrice,
			booking.DiscountAmount, booking.TaxAmount, booking.DynamicAdjustment, booking.TotalPrice,
			booking.Currency, booking.RefundAmount, booking.HasInsurance, booking.HasEquipment,
			booking.PromoCode, booking.Notes,
			nullTime(booking.ConfirmedAt), nullTime(booking.PaidAt), nullTime(booking.CompletedAt),
			nullTime(booking.CancelledAt), nullTime(booking.NoShowAt),
			booking.CancellationReason, now, now, booking.Version,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateReference
			}
			return fmt.Errorf("failed to create booking: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get booking id: %w", err)
		}
		booking.ID = id

		for i := range booking.Extras {
			if err := insertExtra(ctx, tx, id, &booking.Extras[i], now); err != nil {
				return err
			}
		}
		for i := range booking.Equipment {
			if err := insertEquipment(ctx, tx, id, &booking.Equipment[i], now); err != nil {
				return err
			}
		}
		for i := range booking.Payments {
			if err := insertPayment(ctx, tx, id, &booking.Payments[i], now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		booking.ID = 0
		return err
	}

	booking.CreatedAt = now
	booking.UpdatedAt = now
	db.logger.Debug().
		Int64("booking_id", booking.ID).
		Str("reference", booking.Reference).
		Str("scope", booking.Scope().String()).
		Msg("booking created")
	return nil
}

// UpdateBooking writes the booking row guarded by its version and diff-syncs the
// nested collections selected in opts. On success booking.Version is incremented.
func (db *DB) UpdateBooking(ctx context.Context, booking *models.Booking, opts models.SyncOptions) error {
	now := time.Now().UTC()
	scope := booking.Scope()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE bookings SET
                type = ?, client_id = ?, course_id = ?, monitor_id = ?, participant_count = ?,
                start_date = ?, end_date = ?, start_time = ?, end_time = ?,
                base_price = ?, extras_price = ?, equipment_price = ?, insurance_price = ?,
                discount_amount = ?, tax_amount = ?, dynamic_adjustment = ?, total_price = ?, currency = ?,
                has_insurance = ?, has_equipment = ?, promo_code = ?, notes = ?,
                updated_at = ?, version = version + 1
            WHERE id = ? AND season_id = ? AND school_id = ? AND version = ? AND tombstoned = 0`

		result, err := tx.ExecContext(ctx, query,
			string(booking.Type), booking.ClientID, nullInt64(booking.CourseID), nullInt64(booking.MonitorID),
			booking.ParticipantCount, formatDate(booking.StartDate), formatDate(booking.EndDate),
			booking.StartTime, booking.EndTime,
			booking.BasePrice, booking.ExtrasPrice, booking.EquipmentPrice, booking.InsurancePrice,
			booking.DiscountAmount, booking.TaxAmount, booking.DynamicAdjustment, booking.TotalPrice, booking.Currency,
			booking.HasInsurance, booking.HasEquipment, booking.PromoCode, booking.Notes,
			now, booking.ID, scope.SeasonID, scope.SchoolID, booking.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
		if err := checkVersioned(ctx, tx, result, scope, booking.ID); err != nil {
			return err
		}

		if opts.Extras {
			synced, err := syncExtrasTx(ctx, tx, booking.ID, booking.Extras, now)
			if err != nil {
				return err
			}
			booking.Extras = synced
		}
		if opts.Equipment {
			synced, err := syncEquipmentTx(ctx, tx, booking.ID, booking.Equipment, now)
			if err != nil {
				return err
			}
			booking.Equipment = synced
		}
		return nil
	})
	if err != nil {
		return err
	}

	booking.Version++
	booking.UpdatedAt = now
	return nil
}

// checkVersioned turns a zero-row versioned update into ErrNotFound or ErrConcurrentModification.
func checkVersioned(ctx context.Context, tx *sql.Tx, result sql.Result, scope models.Scope, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM bookings WHERE id = ? AND season_id = ? AND school_id = ? AND tombstoned = 0`,
		id, scope.SeasonID, scope.SchoolID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check booking: %w", err)
	}
	return ErrConcurrentModification
}

func (db *DB) GetBooking(ctx context.Context, scope models.Scope, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE id = ? AND season_id = ? AND school_id = ? AND tombstoned = 0`
	return db.getBooking(ctx, query, id, scope.SeasonID, scope.SchoolID)
}

func (db *DB) GetBookingByReference(ctx context.Context, scope models.Scope, reference string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE reference = ? AND season_id = ? AND school_id = ? AND tombstoned = 0`
	return db.getBooking(ctx, query, reference, scope.SeasonID, scope.SchoolID)
}

func (db *DB) getBooking(ctx context.Context, query string, args ...interface{}) (*models.Booking, error) {
	booking, err := scanBooking(db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if err := db.loadChildren(ctx, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

func (db *DB) loadChildren(ctx context.Context, booking *models.Booking) error {
	var err error
	if booking.Extras, err = queryExtras(ctx, db.DB, booking.ID); err != nil {
		return err
	}
	if booking.Equipment, err = queryEquipment(ctx, db.DB, booking.ID); err != nil {
		return err
	}
	if booking.Payments, err = queryPayments(ctx, db.DB, booking.ID); err != nil {
		return err
	}
	return nil
}

// ListBookings returns one page of bookings matching filter, newest first.
func (db *DB) ListBookings(ctx context.Context, scope models.Scope, filter models.BookingFilter) (*models.BookingPage, error) {
	filter.Normalize()

	where := []string{"season_id = ?", "school_id = ?"}
	args := []interface{}{scope.SeasonID, scope.SchoolID}

	if !filter.IncludeDeleted {
		where = append(where, "tombstoned = 0")
	}
	if len(filter.Statuses) > 0 {
		ph, sargs := statusArgs(filter.Statuses)
		where = append(where, "status IN ("+ph+")")
		args = append(args, sargs...)
	}
	if len(filter.Types) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(filter.Types)), ",")
		where = append(where, "type IN ("+ph+")")
		for _, t := range filter.Types {
			args = append(args, string(t))
		}
	}
	if filter.ClientID > 0 {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.CourseID > 0 {
		where = append(where, "course_id = ?")
		args = append(args, filter.CourseID)
	}
	if filter.MonitorID > 0 {
		where = append(where, "monitor_id = ?")
		args = append(args, filter.MonitorID)
	}
	if filter.StartFrom != nil {
		where = append(where, "start_date >= ?")
		args = append(args, formatDate(*filter.StartFrom))
	}
	if filter.StartTo != nil {
		where = append(where, "start_date <= ?")
		args = append(args, formatDate(*filter.StartTo))
	}
	if filter.EndBefore != nil {
		where = append(where, "end_date < ?")
		args = append(args, formatDate(*filter.EndBefore))
	}
	if filter.CreatedBefore != nil {
		where = append(where, "created_at < ?")
		args = append(args, filter.CreatedBefore.UTC())
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		where = append(where, "(reference LIKE ? OR notes LIKE ?)")
		pattern := "%" + s + "%"
		args = append(args, pattern, pattern)
	}

	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count bookings: %w", err)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + whereSQL +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	pageArgs := append(append([]interface{}{}, args...), filter.Limit, (filter.Page-1)*filter.Limit)

	rows, err := db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	items, err := scanBookings(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, b := range items {
		if err := db.loadChildren(ctx, b); err != nil {
			return nil, err
		}
	}

	if items == nil {
		items = []*models.Booking{}
	}
	return &models.BookingPage{
		Items:      items,
		Total:      total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: int(math.Ceil(float64(total) / float64(filter.Limit))),
	}, nil
}

// ApplyStatusChange persists a transition. It only succeeds if the booking is still
// in FromStatus at the given Version.
func (db *DB) ApplyStatusChange(ctx context.Context, scope models.Scope, change models.StatusChange) error {
	at := change.At.UTC()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		set := []string{"status = ?", "updated_at = ?", "version = version + 1"}
		args := []interface{}{string(change.ToStatus), at}

		if col, ok := statusTimestampColumn[change.ToStatus]; ok {
			set = append(set, col+" = ?")
			args = append(args, at)
		}
		if change.Reason != "" {
			set = append(set, "cancellation_reason = ?")
			args = append(args, change.Reason)
		}
		if change.RefundAmount != nil {
			set = append(set, "refund_amount = ?")
			args = append(args, *change.RefundAmount)
		}

		query := `UPDATE bookings SET ` + strings.Join(set, ", ") +
			` WHERE id = ? AND season_id = ? AND school_id = ? AND status = ? AND version = ? AND tombstoned = 0`
		args = append(args, change.BookingID, scope.SeasonID, scope.SchoolID, string(change.FromStatus), change.Version)

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update booking status: %w", err)
		}
		if err := checkVersioned(ctx, tx, result, scope, change.BookingID); err != nil {
			return err
		}

		if change.ReserveEquipment {
			_, err := tx.ExecContext(ctx,
				`UPDATE booking_equipment SET reserved_at = ?, updated_at = ?
                 WHERE booking_id = ? AND reserved_at IS NULL AND returned_at IS NULL`,
				at, at, change.BookingID,
			)
			if err != nil {
				return fmt.Errorf("failed to reserve equipment: %w", err)
			}
		}
		return nil
	})
}

// TombstoneBooking hides the booking from every read. The row is kept.
func (db *DB) TombstoneBooking(ctx context.Context, scope models.Scope, id int64, at time.Time) error {
	at = at.UTC()
	result, err := db.ExecContext(ctx,
		`UPDATE bookings SET tombstoned = 1, tombstoned_at = ?, updated_at = ?, version = version + 1
         WHERE id = ? AND season_id = ? AND school_id = ? AND tombstoned = 0`,
		at, at, id, scope.SeasonID, scope.SchoolID,
	)
	if err != nil {
		return fmt.Errorf("failed to tombstone booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// FindOverlapping returns live bookings in the given statuses whose [start_date, end_date]
// intersects [q.From, q.To], narrowed to a course, a monitor or an equipment type.
func (db *DB) FindOverlapping(ctx context.Context, scope models.Scope, q models.OverlapQuery) ([]*models.Booking, error) {
	where := []string{
		"b.season_id = ?", "b.school_id = ?", "b.tombstoned = 0",
		"b.start_date <= ?", "b.end_date >= ?",
	}
	args := []interface{}{scope.SeasonID, scope.SchoolID, formatDate(q.To), formatDate(q.From)}

	if len(q.Statuses) > 0 {
		ph, sargs := statusArgs(q.Statuses)
		where = append(where, "b.status IN ("+ph+")")
		args = append(args, sargs...)
	}
	if q.CourseID > 0 {
		where = append(where, "b.course_id = ?")
		args = append(args, q.CourseID)
	}
	if q.MonitorID > 0 {
		where = append(where, "b.monitor_id = ?")
		args = append(args, q.MonitorID)
	}
	if q.EquipmentType != "" {
		where = append(where, `EXISTS (SELECT 1 FROM booking_equipment e
            WHERE e.booking_id = b.id AND e.equipment_type = ? AND e.returned_at IS NULL)`)
		args = append(args, q.EquipmentType)
	}
	if q.ExcludeID > 0 {
		where = append(where, "b.id != ?")
		args = append(args, q.ExcludeID)
	}

	query := `SELECT ` + prefixColumns("b.", bookingColumns) + ` FROM bookings b WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY b.start_date, b.id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping bookings: %w", err)
	}
	bookings, err := scanBookings(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if q.EquipmentType != "" {
		for _, b := range bookings {
			if b.Equipment, err = queryEquipment(ctx, db.DB, b.ID); err != nil {
				return nil, err
			}
		}
	}
	return bookings, nil
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// GetStats aggregates live bookings of a scope.
func (db *DB) GetStats(ctx context.Context, scope models.Scope, now time.Time) (*models.BookingStats, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT status, type, COUNT(*), COALESCE(SUM(total_price), 0), COALESCE(SUM(participant_count), 0)
         FROM bookings
         WHERE season_id = ? AND school_id = ? AND tombstoned = 0
         GROUP BY status, type`,
		scope.SeasonID, scope.SchoolID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking stats: %w", err)
	}
	defer rows.Close()

	stats := &models.BookingStats{
		ByStatus: make(map[models.Status]int),
		ByType:   make(map[models.BookingType]int),
	}
	var (
		valueSum   float64
		valueCount int
		dropped    int
	)

	for rows.Next() {
		var (
			status, bookingType string
			count, participants int
			sum                 float64
		)
		if err := rows.Scan(&status, &bookingType, &count, &sum, &participants); err != nil {
			return nil, fmt.Errorf("failed to scan booking stats: %w", err)
		}

		st := models.Status(status)
		stats.Total += count
		stats.ByStatus[st] += count
		stats.ByType[models.BookingType(bookingType)] += count

		switch st {
		case models.StatusPaid, models.StatusCompleted:
			stats.Revenue += sum
		case models.StatusPending, models.StatusConfirmed:
			stats.PendingRevenue += sum
		}
		if st == models.StatusCancelled || st == models.StatusNoShow {
			dropped += count
			continue
		}
		stats.TotalParticipants += participants
		valueSum += sum
		valueCount += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	stats.Revenue = round2(stats.Revenue)
	stats.PendingRevenue = round2(stats.PendingRevenue)
	if valueCount > 0 {
		stats.AverageValue = round2(valueSum / float64(valueCount))
	}
	if stats.Total > 0 {
		stats.CancellationRate = math.Round(float64(dropped)/float64(stats.Total)*10000) / 10000
	}

	outstanding, err := db.ListOutstandingEquipment(ctx, scope, now)
	if err != nil {
		return nil, err
	}
	stats.OutstandingRentals = len(outstanding)

	return stats, nil
}

// CountCompletedBookings is the loyalty signal for a client.
func (db *DB) CountCompletedBookings(ctx context.Context, scope models.Scope, clientID int64) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings
         WHERE season_id = ? AND school_id = ? AND client_id = ? AND status = ? AND tombstoned = 0`,
		scope.SeasonID, scope.SchoolID, clientID, string(models.StatusCompleted),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed bookings: %w", err)
	}
	return count, nil
}

// ListScopes returns every scope holding at least one live booking.
func (db *DB) ListScopes(ctx context.Context) ([]models.Scope, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT season_id, school_id FROM bookings WHERE tombstoned = 0 ORDER BY season_id, school_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []models.Scope
	for rows.Next() {
		var s models.Scope
		if err := rows.Scan(&s.SeasonID, &s.SchoolID); err != nil {
			return nil, fmt.Errorf("failed to scan scope: %w", err)
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
