/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/podolabs/signaged/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the device-local sqlite store. Callers run Migrate once
// the connection is up.
func Connect(dsn string) (*gorm.DB, error) {
	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	// Single-writer device store; one connection avoids sqlite lock churn.
	sqlDB.SetMaxOpenConns(1)

	return database, nil
}

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		&models.DeviceIdentity{},
		&models.ResumeRecord{},
		&models.ReportRecord{},
		&models.CacheMark{},
		&models.LiveUpdate{},
	)
}

// Close releases database resources.
func Close(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
