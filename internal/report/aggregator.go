/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package report buffers playback-completion records and flushes them to
// the data source in batches.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/podolabs/signaged/internal/models"
	"github.com/podolabs/signaged/internal/telemetry"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// DefaultStaleThreshold is how old the oldest pending record may get
// before a flush is forced.
const DefaultStaleThreshold = 5 * time.Minute

// Submitter posts a report batch to the data source.
type Submitter interface {
	PostReports(ctx context.Context, reports []models.Report) error
}

// Aggregator persists pending reports in the device store so a crash
// between play and flush loses nothing.
type Aggregator struct {
	db        *gorm.DB
	submit    Submitter
	logger    zerolog.Logger
	threshold time.Duration
	now       func() time.Time
}

func New(database *gorm.DB, submit Submitter, threshold time.Duration, logger zerolog.Logger) *Aggregator {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	return &Aggregator{
		db:        database,
		submit:    submit,
		logger:    logger.With().Str("component", "report").Logger(),
		threshold: threshold,
		now:       time.Now,
	}
}

// Add queues one record. Records without a played-at timestamp never made
// it to the screen and are dropped.
func (a *Aggregator) Add(ctx context.Context, report models.Report) error {
	if report.PlayedAt.IsZero() {
		a.logger.Debug().Str("file_id", report.FileID).Msg("discarding report without play timestamp")
		return nil
	}
	record := models.ReportRecord{
		ID:          uuid.NewString(),
		CompanyID:   report.CompanyID,
		DeviceID:    report.DeviceID,
		FileID:      report.FileID,
		ExternalURL: report.ExternalURL,
		ResolvedURL: report.ResolvedURL,
		PlayedAt:    report.PlayedAt,
	}
	if err := a.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("queue report: %w", err)
	}
	return nil
}

// FlushIfStale flushes the queue when the oldest pending record is older
// than the threshold. Younger queues are left to accumulate.
func (a *Aggregator) FlushIfStale(ctx context.Context) error {
	var oldest models.ReportRecord
	err := a.db.WithContext(ctx).Order("played_at asc").First(&oldest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect report queue: %w", err)
	}
	if a.now().Sub(oldest.PlayedAt) <= a.threshold {
		return nil
	}
	return a.FlushAll(ctx)
}

// FlushAll submits every pending record. The queue is cleared only after
// the submitter reports success; on failure the records stay pending for
// the next trigger.
func (a *Aggregator) FlushAll(ctx context.Context) error {
	var records []models.ReportRecord
	if err := a.db.WithContext(ctx).Order("played_at asc").Find(&records).Error; err != nil {
		return fmt.Errorf("load report queue: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	reports := make([]models.Report, len(records))
	ids := make([]string, len(records))
	for i, record := range records {
		reports[i] = models.Report{
			CompanyID:   record.CompanyID,
			DeviceID:    record.DeviceID,
			FileID:      record.FileID,
			ExternalURL: record.ExternalURL,
			ResolvedURL: record.ResolvedURL,
			PlayedAt:    record.PlayedAt,
		}
		ids[i] = record.ID
	}

	if err := a.submit.PostReports(ctx, reports); err != nil {
		telemetry.ReportFlushFailuresTotal.Inc()
		return fmt.Errorf("submit report batch: %w", err)
	}

	if err := a.db.WithContext(ctx).Delete(&models.ReportRecord{}, "id IN ?", ids).Error; err != nil {
		return fmt.Errorf("clear report queue: %w", err)
	}
	telemetry.ReportsFlushedTotal.Add(float64(len(records)))
	a.logger.Info().Int("count", len(records)).Msg("report batch flushed")
	return nil
}

// Pending returns the number of queued records.
func (a *Aggregator) Pending(ctx context.Context) (int64, error) {
	var count int64
	err := a.db.WithContext(ctx).Model(&models.ReportRecord{}).Count(&count).Error
	return count, err
}
