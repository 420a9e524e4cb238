/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resume persists the last-played identity and picks the restart
// index when a playlist activates.
package resume

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/podolabs/signaged/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tracker keeps exactly one resume record per device. Each store overwrites
// the previous record; this is a cursor, not a history.
type Tracker struct {
	db       *gorm.DB
	logger   zerolog.Logger
	deviceID string
	now      func() time.Time
}

func NewTracker(database *gorm.DB, deviceID string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		db:       database,
		logger:   logger.With().Str("component", "resume").Logger(),
		deviceID: deviceID,
		now:      time.Now,
	}
}

// Store upserts the device's resume record from the item that just finished.
func (t *Tracker) Store(ctx context.Context, item models.PlaylistItem, index int) error {
	record := models.ResumeRecord{
		DeviceID:   t.deviceID,
		CategoryID: item.CategoryID,
		SlotID:     item.SlotID,
		FileID:     item.Identity(),
		Index:      index,
		StoredAt:   t.now(),
	}
	err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("store resume record: %w", err)
	}
	return nil
}

// Get returns the device's resume record, or nil when none was ever stored.
func (t *Tracker) Get(ctx context.Context) (*models.ResumeRecord, error) {
	var record models.ResumeRecord
	err := t.db.WithContext(ctx).First(&record, "device_id = ?", t.deviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load resume record: %w", err)
	}
	return &record, nil
}

// SelectIndex picks the restart index for items given a stored record. The
// match narrows in tiers: category, then slot, then file identity at the
// exact stored index. A tier with no survivors falls back to the first
// match of the previous tier. No record at all yields -1 (caller starts
// from the beginning); a record whose category no longer exists yields 0.
func SelectIndex(record *models.ResumeRecord, items []models.PlaylistItem) int {
	if record == nil {
		return -1
	}

	categoryFirst := -1
	slotFirst := -1
	for i, item := range items {
		if item.CategoryID != record.CategoryID {
			continue
		}
		if categoryFirst < 0 {
			categoryFirst = i
		}
		if item.SlotID != record.SlotID {
			continue
		}
		if slotFirst < 0 {
			slotFirst = i
		}
		if i == record.Index && item.Identity() == record.FileID {
			return i
		}
	}

	if slotFirst >= 0 {
		return slotFirst
	}
	if categoryFirst >= 0 {
		return categoryFirst
	}
	return 0
}

// SelectFor loads the record and applies SelectIndex in one step.
func (t *Tracker) SelectFor(ctx context.Context, items []models.PlaylistItem) (int, error) {
	record, err := t.Get(ctx)
	if err != nil {
		return -1, err
	}
	index := SelectIndex(record, items)
	t.logger.Debug().Int("index", index).Msg("resume index selected")
	return index, nil
}
