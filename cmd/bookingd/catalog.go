package main

import (
	"context"
	"fmt"
	"os"

	"seasonbook/internal/domain"
	"seasonbook/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

// catalogFile is the YAML layout of the resources a school offers in a season.
type catalogFile struct {
	Courses   []models.Course             `yaml:"courses"`
	Monitors  []models.Monitor            `yaml:"monitors"`
	Equipment []models.EquipmentInventory `yaml:"equipment"`
}

func loadCatalog(path string) (*catalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &catalog, nil
}

// seedCatalog upserts every catalog row. An empty path leaves the database as is.
func seedCatalog(ctx context.Context, store domain.CatalogStore, path string, logger *zerolog.Logger) error {
	if path == "" {
		logger.Warn().Msg("catalog_path is empty, using resources already in the database")
		return nil
	}
	catalog, err := loadCatalog(path)
	if err != nil {
		logger.Error().Err(err).Str("catalog_path", path).Msg("load catalog")
		return err
	}

	for i := range catalog.Courses {
		if err := store.SaveCourse(ctx, &catalog.Courses[i]); err != nil {
			return fmt.Errorf("save course %d: %w", catalog.Courses[i].ID, err)
		}
	}
	for i := range catalog.Monitors {
		if err := store.SaveMonitor(ctx, &catalog.Monitors[i]); err != nil {
			return fmt.Errorf("save monitor %d: %w", catalog.Monitors[i].ID, err)
		}
	}
	for i := range catalog.Equipment {
		if err := store.SaveEquipmentInventory(ctx, &catalog.Equipment[i]); err != nil {
			return fmt.Errorf("save equipment %s: %w", catalog.Equipment[i].EquipmentType, err)
		}
	}

	logger.Info().
		Str("catalog_path", path).
		Int("courses", len(catalog.Courses)).
		Int("monitors", len(catalog.Monitors)).
		Int("equipment_types", len(catalog.Equipment)).
		Msg("catalog loaded")
	return nil
}
