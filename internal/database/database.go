package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the sqlite-backed Persistence Gateway. Every booking query is filtered
// by season_id and school_id.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	inMemory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            season_id INTEGER NOT NULL,
            school_id INTEGER NOT NULL,
            reference TEXT NOT NULL,
            type TEXT NOT NULL,
            client_id INTEGER NOT NULL,
            course_id INTEGER,
            monitor_id INTEGER,
            participant_count INTEGER NOT NULL DEFAULT 1,
            start_date TEXT NOT NULL,
            end_date TEXT NOT NULL,
            start_time TEXT NOT NULL DEFAULT '',
            end_time TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            base_price REAL NOT NULL DEFAULT 0,
            extras_price REAL NOT NULL DEFAULT 0,
            equipment_price REAL NOT NULL DEFAULT 0,
            insurance_price REAL NOT NULL DEFAULT 0,
            discount_amount REAL NOT NULL DEFAULT 0,
            tax_amount REAL NOT NULL DEFAULT 0,
            dynamic_adjustment REAL NOT NULL DEFAULT 0,
            total_price REAL NOT NULL DEFAULT 0,
            currency TEXT NOT NULL,
            refund_amount REAL NOT NULL DEFAULT 0,
            has_insurance BOOLEAN NOT NULL DEFAULT 0,
            has_equipment BOOLEAN NOT NULL DEFAULT 0,
            promo_code TEXT NOT NULL DEFAULT '',
            notes TEXT NOT NULL DEFAULT '',
            confirmed_at DATETIME,
            paid_at DATETIME,
            completed_at DATETIME,
            cancelled_at DATETIME,
            no_show_at DATETIME,
            cancellation_reason TEXT NOT NULL DEFAULT '',
            tombstoned BOOLEAN NOT NULL DEFAULT 0,
            tombstoned_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            UNIQUE (season_id, school_id, reference)
        )`,
		`CREATE TABLE IF NOT EXISTS booking_extras (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL REFERENCES bookings(id),
            name TEXT NOT NULL,
            unit_price REAL NOT NULL,
            quantity INTEGER NOT NULL,
            total_price REAL NOT NULL,
            required BOOLEAN NOT NULL DEFAULT 0,
            active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS booking_equipment (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL REFERENCES bookings(id),
            equipment_type TEXT NOT NULL,
            name TEXT NOT NULL,
            size TEXT NOT NULL DEFAULT '',
            daily_rate REAL NOT NULL,
            rental_days INTEGER NOT NULL,
            total_price REAL NOT NULL,
            condition_out TEXT NOT NULL DEFAULT '',
            condition_in TEXT NOT NULL DEFAULT '',
            reserved_at DATETIME,
            rented_at DATETIME,
            returned_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS booking_payments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL REFERENCES bookings(id),
            amount REAL NOT NULL,
            fee_amount REAL NOT NULL DEFAULT 0,
            payment_method TEXT NOT NULL DEFAULT '',
            payment_type TEXT NOT NULL,
            status TEXT NOT NULL,
            gateway TEXT NOT NULL DEFAULT '',
            gateway_transaction_id TEXT NOT NULL DEFAULT '',
            processed_at DATETIME,
            refunded_amount REAL NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS courses (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            season_id INTEGER NOT NULL,
            school_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            kind TEXT NOT NULL DEFAULT 'course',
            max_participants INTEGER NOT NULL,
            price_per_person REAL NOT NULL,
            weather_dependent BOOLEAN NOT NULL DEFAULT 0,
            is_active BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS monitors (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            season_id INTEGER NOT NULL,
            school_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            max_daily_bookings INTEGER NOT NULL DEFAULT 0,
            is_active BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS equipment_inventory (
            season_id INTEGER NOT NULL,
            school_id INTEGER NOT NULL,
            equipment_type TEXT NOT NULL,
            name TEXT NOT NULL,
            total_units INTEGER NOT NULL,
            daily_rate REAL NOT NULL,
            restock_date TEXT,
            PRIMARY KEY (season_id, school_id, equipment_type)
        )`,
		`CREATE TABLE IF NOT EXISTS post_action_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            action TEXT NOT NULL,
            season_id INTEGER NOT NULL,
            school_id INTEGER NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_scope_status ON bookings(season_id, school_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_scope_dates ON bookings(season_id, school_id, start_date, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_course ON bookings(course_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_monitor ON bookings(monitor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_client ON bookings(season_id, school_id, client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_extras_booking ON booking_extras(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_equipment_booking ON booking_equipment(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_equipment_type ON booking_equipment(equipment_type)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_booking ON booking_payments(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_post_action_status ON post_action_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", firstLine(query), err)
		}
	}
	return nil
}

func firstLine(q string) string {
	q = strings.TrimSpace(q)
	if i := strings.IndexByte(q, '\n'); i > 0 {
		return q[:i]
	}
	return q
}

// withTx runs fn inside a write transaction.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
