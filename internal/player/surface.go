/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"github.com/podolabs/signaged/internal/models"
	"github.com/rs/zerolog"
)

// LogSurface is a headless Surface that only logs. It stands in where no
// render integration is wired, and in tests of the surrounding plumbing.
type LogSurface struct {
	logger zerolog.Logger
}

func NewLogSurface(logger zerolog.Logger) *LogSurface {
	return &LogSurface{logger: logger.With().Str("component", "surface").Logger()}
}

func (s *LogSurface) Load(items []models.PlaylistItem) {
	s.logger.Info().Int("items", len(items)).Msg("source list loaded")
}

func (s *LogSurface) Play(index int) {
	s.logger.Info().Int("index", index).Msg("play")
}

func (s *LogSurface) Stop() {
	s.logger.Info().Msg("stop")
}

func (s *LogSurface) ShowExternal(url string) {
	s.logger.Info().Str("url", url).Msg("showing external content")
}
