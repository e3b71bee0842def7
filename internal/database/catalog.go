package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"seasonbook/internal/models"
)

func (db *DB) GetCourse(ctx context.Context, scope models.Scope, id int64) (*models.Course, error) {
	var c models.Course
	err := db.QueryRowContext(ctx,
		`SELECT id, season_id, school_id, name, kind, max_participants, price_per_person, weather_dependent, is_active
         FROM courses WHERE id = ? AND season_id = ? AND school_id = ?`,
		id, scope.SeasonID, scope.SchoolID,
	).Scan(&c.ID, &c.SeasonID, &c.SchoolID, &c.Name, &c.Kind, &c.MaxParticipants, &c.PricePerPerson,
		&c.WeatherDependent, &c.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &c, nil
}

func (db *DB) GetMonitor(ctx context.Context, scope models.Scope, id int64) (*models.Monitor, error) {
	var m models.Monitor
	err := db.QueryRowContext(ctx,
		`SELECT id, season_id, school_id, name, max_daily_bookings, is_active
         FROM monitors WHERE id = ? AND season_id = ? AND school_id = ?`,
		id, scope.SeasonID, scope.SchoolID,
	).Scan(&m.ID, &m.SeasonID, &m.SchoolID, &m.Name, &m.MaxDailyBookings, &m.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get monitor: %w", err)
	}
	return &m, nil
}

func (db *DB) GetEquipmentInventory(ctx context.Context, scope models.Scope, equipmentType string) (*models.EquipmentInventory, error) {
	var (
		inv     models.EquipmentInventory
		restock sql.NullString
	)
	err := db.QueryRowContext(ctx,
		`SELECT season_id, school_id, equipment_type, name, total_units, daily_rate, restock_date
         FROM equipment_inventory WHERE season_id = ? AND school_id = ? AND equipment_type = ?`,
		scope.SeasonID, scope.SchoolID, equipmentType,
	).Scan(&inv.SeasonID, &inv.SchoolID, &inv.EquipmentType, &inv.Name, &inv.TotalUnits, &inv.DailyRate, &restock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get equipment inventory: %w", err)
	}
	if restock.Valid && restock.String != "" {
		d, err := parseDate(restock.String)
		if err != nil {
			return nil, err
		}
		inv.RestockDate = &d
	}
	return &inv, nil
}

// SaveCourse inserts the course, or replaces it when ID is set.
func (db *DB) SaveCourse(ctx context.Context, c *models.Course) error {
	if c.Kind == "" {
		c.Kind = string(models.TypeCourse)
	}
	if c.ID == 0 {
		result, err := db.ExecContext(ctx,
			`INSERT INTO courses (season_id, school_id, name, kind, max_participants, price_per_person, weather_dependent, is_active)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.SeasonID, c.SchoolID, c.Name, c.Kind, c.MaxParticipants, c.PricePerPerson, c.WeatherDependent, c.IsActive,
		)
		if err != nil {
			return fmt.Errorf("failed to create course: %w", err)
		}
		c.ID, err = result.LastInsertId()
		return err
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO courses (id, season_id, school_id, name, kind, max_participants, price_per_person, weather_dependent, is_active)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET season_id = excluded.season_id, school_id = excluded.school_id,
            name = excluded.name, kind = excluded.kind, max_participants = excluded.max_participants,
            price_per_person = excluded.price_per_person, weather_dependent = excluded.weather_dependent,
            is_active = excluded.is_active`,
		c.ID, c.SeasonID, c.SchoolID, c.Name, c.Kind, c.MaxParticipants, c.PricePerPerson, c.WeatherDependent, c.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save course: %w", err)
	}
	return nil
}

func (db *DB) SaveMonitor(ctx context.Context, m *models.Monitor) error {
	if m.ID == 0 {
		result, err := db.ExecContext(ctx,
			`INSERT INTO monitors (season_id, school_id, name, max_daily_bookings, is_active) VALUES (?, ?, ?, ?, ?)`,
			m.SeasonID, m.SchoolID, m.Name, m.MaxDailyBookings, m.IsActive,
		)
		if err != nil {
			return fmt.Errorf("failed to create monitor: %w", err)
		}
		m.ID, err = result.LastInsertId()
		return err
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO monitors (id, season_id, school_id, name, max_daily_bookings, is_active)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET season_id = excluded.season_id, school_id = excluded.school_id,
            name = excluded.name, max_daily_bookings = excluded.max_daily_bookings, is_active = excluded.is_active`,
		m.ID, m.SeasonID, m.SchoolID, m.Name, m.MaxDailyBookings, m.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save monitor: %w", err)
	}
	return nil
}

func (db *DB) SaveEquipmentInventory(ctx context.Context, inv *models.EquipmentInventory) error {
	var restock sql.NullString
	if inv.RestockDate != nil {
		restock = sql.NullString{String: formatDate(*inv.RestockDate), Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO equipment_inventory (season_id, school_id, equipment_type, name, total_units, daily_rate, restock_date)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(season_id, school_id, equipment_type) DO UPDATE SET name = excluded.name,
            total_units = excluded.total_units, daily_rate = excluded.daily_rate, restock_date = excluded.restock_date`,
		inv.SeasonID, inv.SchoolID, inv.EquipmentType, inv.Name, inv.TotalUnits, inv.DailyRate, restock,
	)
	if err != nil {
		return fmt.Errorf("failed to save equipment inventory: %w", err)
	}
	return nil
}
