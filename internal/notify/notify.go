/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notify consumes live-update messages from the pub/sub transport,
// deduplicates them against the device store and acknowledges them back
// through the data source.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/podolabs/signaged/internal/models"
	"github.com/podolabs/signaged/internal/telemetry"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Message is one live-update notification.
type Message struct {
	Event string `json:"event"`
	UUID  string `json:"uuid"`
}

// Handler acts on a deduplicated message.
type Handler func(ctx context.Context, msg Message)

// Listener is a pub/sub transport delivering live updates. Listen blocks
// until the context is cancelled.
type Listener interface {
	Listen(ctx context.Context, handle Handler) error
	Close() error
}

// Acker posts live-update acknowledgements to the data source.
type Acker interface {
	PostAck(ctx context.Context, event, uuid string) error
}

// Dispatcher wraps a handler with (event, uuid) deduplication and the
// acknowledge call. Replays of an already-consumed message are dropped
// before the handler runs.
type Dispatcher struct {
	db     *gorm.DB
	acker  Acker
	handle Handler
	logger zerolog.Logger
}

func NewDispatcher(database *gorm.DB, acker Acker, handle Handler, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		db:     database,
		acker:  acker,
		handle: handle,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Dispatch records, acknowledges and handles one message.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	if msg.Event == "" || msg.UUID == "" {
		d.logger.Warn().Str("event", msg.Event).Str("uuid", msg.UUID).Msg("dropping malformed live update")
		return
	}

	fresh, err := d.record(ctx, msg)
	if err != nil {
		d.logger.Error().Err(err).Msg("live update dedupe failed")
		return
	}
	if !fresh {
		d.logger.Debug().Str("event", msg.Event).Str("uuid", msg.UUID).Msg("duplicate live update ignored")
		return
	}

	telemetry.LiveUpdatesTotal.WithLabelValues(msg.Event).Inc()
	if err := d.acker.PostAck(ctx, msg.Event, msg.UUID); err != nil {
		d.logger.Warn().Err(err).Str("event", msg.Event).Msg("live update ack failed")
	}
	d.handle(ctx, msg)
}

// record inserts the dedupe row. An existing (event, uuid) pair leaves the
// row untouched and reports fresh=false.
func (d *Dispatcher) record(ctx context.Context, msg Message) (bool, error) {
	update := models.LiveUpdate{
		Event:      msg.Event,
		UUID:       msg.UUID,
		ReceivedAt: time.Now(),
	}
	result := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&update)
	if result.Error != nil {
		return false, fmt.Errorf("record live update: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
