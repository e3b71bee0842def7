package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"seasonbook/internal/models"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

const scopedBooking = `booking_id IN (SELECT id FROM bookings WHERE id = ? AND season_id = ? AND school_id = ? AND tombstoned = 0)`

func insertExtra(ctx context.Context, tx *sql.Tx, bookingID int64, e *models.BookingExtra, now time.Time) error {
	e.Recalculate()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO booking_extras (booking_id, name, unit_price, quantity, total_price, required, active, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bookingID, e.Name, e.UnitPrice, e.Quantity, e.TotalPrice, e.Required, e.Active, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert extra: %w", err)
	}
	if e.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get extra id: %w", err)
	}
	e.BookingID = bookingID
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

func insertEquipment(ctx context.Context, tx *sql.Tx, bookingID int64, e *models.BookingEquipment, now time.Time) error {
	e.Recalculate()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO booking_equipment (booking_id, equipment_type, name, size, daily_rate, rental_days, total_price,
            condition_out, condition_in, reserved_at, rented_at, returned_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bookingID, e.EquipmentType, e.Name, e.Size, e.DailyRate, e.RentalDays, e.TotalPrice,
		string(e.ConditionOut), string(e.ConditionIn),
		nullTime(e.ReservedAt), nullTime(e.RentedAt), nullTime(e.ReturnedAt), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert equipment: %w", err)
	}
	if e.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get equipment id: %w", err)
	}
	e.BookingID = bookingID
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

func insertPayment(ctx context.Context, tx *sql.Tx, bookingID int64, p *models.BookingPayment, now time.Time) error {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO booking_payments (booking_id, amount, fee_amount, payment_method, payment_type, status,
            gateway, gateway_transaction_id, processed_at, refunded_amount, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bookingID, p.Amount, p.FeeAmount, p.PaymentMethod, string(p.PaymentType), string(p.Status),
		p.Gateway, p.GatewayTransactionID, nullTime(p.ProcessedAt), p.RefundedAmount, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	if p.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get payment id: %w", err)
	}
	p.BookingID = bookingID
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func queryExtras(ctx context.Context, q querier, bookingID int64) ([]models.BookingExtra, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, booking_id, name, unit_price, quantity, total_price, required, active, created_at, updated_at
         FROM booking_extras WHERE booking_id = ? ORDER BY id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get extras: %w", err)
	}
	defer rows.Close()

	var extras []models.BookingExtra
	for rows.Next() {
		var e models.BookingExtra
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Name, &e.UnitPrice, &e.Quantity, &e.TotalPrice,
			&e.Required, &e.Active, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan extra: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		e.UpdatedAt = e.UpdatedAt.UTC()
		extras = append(extras, e)
	}
	return extras, rows.Err()
}

const equipmentColumns = `id, booking_id, equipment_type, name, size, daily_rate, rental_days, total_price,
    condition_out, condition_in, reserved_at, rented_at, returned_at, created_at, updated_at`

func scanEquipment(row scanner) (models.BookingEquipment, error) {
	var (
		e                          models.BookingEquipment
		condOut, condIn            string
		reserved, rented, returned sql.NullTime
	)
	err := row.Scan(&e.ID, &e.BookingID, &e.EquipmentType, &e.Name, &e.Size, &e.DailyRate, &e.RentalDays,
		&e.TotalPrice, &condOut, &condIn, &reserved, &rented, &returned, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.ConditionOut = models.Condition(condOut)
	e.ConditionIn = models.Condition(condIn)
	e.ReservedAt = nullTimePtr(reserved)
	e.RentedAt = nullTimePtr(rented)
	e.ReturnedAt = nullTimePtr(returned)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func queryEquipment(ctx context.Context, q querier, bookingID int64) ([]models.BookingEquipment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+equipmentColumns+` FROM booking_equipment WHERE booking_id = ? ORDER BY id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get equipment: %w", err)
	}
	defer rows.Close()

	var items []models.BookingEquipment
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan equipment: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func queryPayments(ctx context.Context, q querier, bookingID int64) ([]models.BookingPayment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, booking_id, amount, fee_amount, payment_method, payment_type, status, gateway,
            gateway_transaction_id, processed_at, refunded_amount, created_at, updated_at
         FROM booking_payments WHERE booking_id = ? ORDER BY id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}
	defer rows.Close()

	var payments []models.BookingPayment
	for rows.Next() {
		var (
			p                   models.BookingPayment
			paymentType, status string
			processed           sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.BookingID, &p.Amount, &p.FeeAmount, &p.PaymentMethod, &paymentType,
			&status, &p.Gateway, &p.GatewayTransactionID, &processed, &p.RefundedAmount,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.PaymentType = models.PaymentType(paymentType)
		p.Status = models.PaymentStatus(status)
		p.ProcessedAt = nullTimePtr(processed)
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// SyncExtras replaces the booking's extras with the given set. Items are matched by id,
// then by name; unmatched stored rows are deleted. Repeating a call is a no-op.
func (db *DB) SyncExtras(ctx context.Context, scope models.Scope, bookingID int64, extras []models.BookingExtra) ([]models.BookingExtra, error) {
	var synced []models.BookingExtra
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := touchBooking(ctx, tx, scope, bookingID); err != nil {
			return err
		}
		var err error
		synced, err = syncExtrasTx(ctx, tx, bookingID, extras, time.Now().UTC())
		return err
	})
	return synced, err
}

// SyncEquipment is SyncExtras for equipment; the natural key is type, name and size.
// Reservation, rental and return stamps of matched rows are preserved.
func (db *DB) SyncEquipment(ctx context.Context, scope models.Scope, bookingID int64, equipment []models.BookingEquipment) ([]models.BookingEquipment, error) {
	var synced []models.BookingEquipment
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := touchBooking(ctx, tx, scope, bookingID); err != nil {
			return err
		}
		var err error
		synced, err = syncEquipmentTx(ctx, tx, bookingID, equipment, time.Now().UTC())
		return err
	})
	return synced, err
}

// touchBooking verifies scope and bumps the aggregate version.
func touchBooking(ctx context.Context, tx *sql.Tx, scope models.Scope, bookingID int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE bookings SET updated_at = ?, version = version + 1
         WHERE id = ? AND season_id = ? AND school_id = ? AND tombstoned = 0`,
		time.Now().UTC(), bookingID, scope.SeasonID, scope.SchoolID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch booking: %w", err)
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

func syncExtrasTx(ctx context.Context, tx *sql.Tx, bookingID int64, incoming []models.BookingExtra, now time.Time) ([]models.BookingExtra, error) {
	existing, err := queryExtras(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]int, len(existing))
	for i, e := range existing {
		byID[e.ID] = i
	}
	matched := make(map[int64]bool, len(existing))

	find := func(in models.BookingExtra) (int64, bool) {
		if in.ID > 0 {
			if _, ok := byID[in.ID]; ok && !matched[in.ID] {
				return in.ID, true
			}
		}
		for _, e := range existing {
			if !matched[e.ID] && e.Name == in.Name {
				return e.ID, true
			}
		}
		return 0, false
	}

	for i := range incoming {
		in := incoming[i]
		in.Recalculate()
		id, ok := find(in)
		if !ok {
			if err := insertExtra(ctx, tx, bookingID, &in, now); err != nil {
				return nil, err
			}
			matched[in.ID] = true
			continue
		}
		matched[id] = true
		_, err := tx.ExecContext(ctx,
			`UPDATE booking_extras SET name = ?, unit_price = ?, quantity = ?, total_price = ?, required = ?, active = ?, updated_at = ?
             WHERE id = ? AND booking_id = ?`,
			in.Name, in.UnitPrice, in.Quantity, in.TotalPrice, in.Required, in.Active, now, id, bookingID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update extra: %w", err)
		}
	}

	for _, e := range existing {
		if matched[e.ID] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM booking_extras WHERE id = ? AND booking_id = ?`, e.ID, bookingID); err != nil {
			return nil, fmt.Errorf("failed to delete extra: %w", err)
		}
	}

	return queryExtras(ctx, tx, bookingID)
}

func equipmentKey(e models.BookingEquipment) string {
	return e.EquipmentType + "\x00" + e.Name + "\x00" + e.Size
}

func syncEquipmentTx(ctx context.Context, tx *sql.Tx, bookingID int64, incoming []models.BookingEquipment, now time.Time) ([]models.BookingEquipment, error) {
	existing, err := queryEquipment(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]bool, len(existing))
	for _, e := range existing {
		byID[e.ID] = true
	}
	matched := make(map[int64]bool, len(existing))

	find := func(in models.BookingEquipment) (int64, bool) {
		if in.ID > 0 && byID[in.ID] && !matched[in.ID] {
			return in.ID, true
		}
		key := equipmentKey(in)
		for _, e := range existing {
			if !matched[e.ID] && equipmentKey(e) == key {
				return e.ID, true
			}
		}
		return 0, false
	}

	for i := range incoming {
		in := incoming[i]
		in.Recalculate()
		id, ok := find(in)
		if !ok {
			in.ReservedAt, in.RentedAt, in.ReturnedAt = nil, nil, nil
			in.ConditionOut, in.ConditionIn = "", ""
			if err := insertEquipment(ctx, tx, bookingID, &in, now); err != nil {
				return nil, err
			}
			matched[in.ID] = true
			continue
		}
		matched[id] = true
		_, err := tx.ExecContext(ctx,
			`UPDATE booking_equipment SET equipment_type = ?, name = ?, size = ?, daily_rate = ?, rental_days = ?,
                total_price = ?, updated_at = ?
             WHERE id = ? AND booking_id = ?`,
			in.EquipmentType, in.Name, in.Size, in.DailyRate, in.RentalDays, in.TotalPrice, now, id, bookingID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update equipment: %w", err)
		}
	}

	for _, e := range existing {
		if matched[e.ID] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM booking_equipment WHERE id = ? AND booking_id = ?`, e.ID, bookingID); err != nil {
			return nil, fmt.Errorf("failed to delete equipment: %w", err)
		}
	}

	return queryEquipment(ctx, tx, bookingID)
}

// UpdateEquipment stores the rental lifecycle fields of one unit.
func (db *DB) UpdateEquipment(ctx context.Context, scope models.Scope, e *models.BookingEquipment) error {
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx,
		`UPDATE booking_equipment SET condition_out = ?, condition_in = ?, reserved_at = ?, rented_at = ?,
            returned_at = ?, updated_at = ?
         WHERE id = ? AND `+scopedBooking,
		string(e.ConditionOut), string(e.ConditionIn), nullTime(e.ReservedAt), nullTime(e.RentedAt),
		nullTime(e.ReturnedAt), now, e.ID, e.BookingID, scope.SeasonID, scope.SchoolID,
	)
	if err != nil {
		return fmt.Errorf("failed to update equipment: %w", err)
	}
	if err := expectRow(result); err != nil {
		return err
	}
	e.UpdatedAt = now
	return nil
}

// ReleaseEquipment clears reservations of units that never left the shop.
func (db *DB) ReleaseEquipment(ctx context.Context, scope models.Scope, bookingID int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE booking_equipment SET reserved_at = NULL, updated_at = ?
         WHERE rented_at IS NULL AND `+scopedBooking,
		time.Now().UTC(), bookingID, scope.SeasonID, scope.SchoolID,
	)
	if err != nil {
		return fmt.Errorf("failed to release equipment: %w", err)
	}
	return nil
}

func (db *DB) AddPayment(ctx context.Context, scope models.Scope, p *models.BookingPayment) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := touchBooking(ctx, tx, scope, p.BookingID); err != nil {
			return err
		}
		return insertPayment(ctx, tx, p.BookingID, p, time.Now().UTC())
	})
}

func (db *DB) UpdatePayment(ctx context.Context, scope models.Scope, p *models.BookingPayment) error {
	now := time.Now().UTC()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := touchBooking(ctx, tx, scope, p.BookingID); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE booking_payments SET status = ?, gateway_transaction_id = ?, processed_at = ?,
                refunded_amount = ?, fee_amount = ?, updated_at = ?
             WHERE id = ? AND booking_id = ?`,
			string(p.Status), p.GatewayTransactionID, nullTime(p.ProcessedAt), p.RefundedAmount, p.FeeAmount,
			now, p.ID, p.BookingID,
		)
		if err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		if err := expectRow(result); err != nil {
			return err
		}
		p.UpdatedAt = now
		return nil
	})
}

// ListOutstandingEquipment returns rented units not returned after their booking ended.
func (db *DB) ListOutstandingEquipment(ctx context.Context, scope models.Scope, now time.Time) ([]models.OutstandingRental, error) {
	today := models.DateOnly(now)
	rows, err := db.QueryContext(ctx,
		`SELECT b.reference, b.client_id, b.end_date, `+prefixColumns("e.", equipmentColumns)+`
         FROM booking_equipment e
         JOIN bookings b ON b.id = e.booking_id
         WHERE b.season_id = ? AND b.school_id = ? AND b.tombstoned = 0
           AND e.rented_at IS NOT NULL AND e.returned_at IS NULL AND b.end_date < ?
         ORDER BY b.end_date, e.id`,
		scope.SeasonID, scope.SchoolID, formatDate(today),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list outstanding equipment: %w", err)
	}
	defer rows.Close()

	var out []models.OutstandingRental
	for rows.Next() {
		var (
			r       models.OutstandingRental
			endDate string
		)
		row := prefixedScanner{rows: rows, head: []interface{}{&r.Reference, &r.ClientID, &endDate}}
		e, err := scanEquipment(row)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outstanding equipment: %w", err)
		}
		if r.EndDate, err = parseDate(endDate); err != nil {
			return nil, err
		}
		r.BookingID = e.BookingID
		r.Equipment = e
		r.DaysOverdue = int(today.Sub(r.EndDate).Hours() / 24)
		out = append(out, r)
	}
	return out, rows.Err()
}

// prefixedScanner lets scanEquipment read a row that starts with extra columns.
type prefixedScanner struct {
	rows *sql.Rows
	head []interface{}
}

func (p prefixedScanner) Scan(dest ...interface{}) error {
	return p.rows.Scan(append(append([]interface{}{}, p.head...), dest...)...)
}

func expectRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
