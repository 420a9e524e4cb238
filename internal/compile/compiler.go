/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package compile converts raw category/slot/file schedule data into
// ordered, time-windowed playlists.
package compile

import (
	"time"

	"github.com/podolabs/signaged/internal/models"
)

// Identity carries the device identity stamped into report templates.
type Identity struct {
	CompanyID string
	DeviceID  string
}

// Normal compiles the category-windowed rotation, one playlist per category.
// Items of the normal rotation are always periodic: the rotation loops until
// a boundary trigger replaces it.
func Normal(categories []models.Category, id Identity) []models.Playlist {
	playlists := make([]models.Playlist, 0, len(categories))
	for _, category := range categories {
		playlists = append(playlists, models.Playlist{
			Type:     models.PlaylistNormal,
			Category: category.ID,
			Start:    category.Start,
			End:      category.End,
			Items:    mergeSlots(category, id, func(models.Slot) bool { return true }),
		})
	}
	return playlists
}

// Emergency compiles absolute-window inserts. The periodic flag is copied
// from each slot's multi-day marker so the player knows whether the insert
// stays alive past one playback.
func Emergency(categories []models.Category, id Identity) []models.Playlist {
	playlists := make([]models.Playlist, 0, len(categories))
	for _, category := range categories {
		playlists = append(playlists, models.Playlist{
			Type:     models.PlaylistEmergency,
			Category: category.ID,
			Start:    category.Start,
			End:      category.End,
			Items:    mergeSlots(category, id, func(s models.Slot) bool { return s.MultiDay }),
		})
	}
	return playlists
}

// Repeating compiles daily recurring inserts. Repeating items are never
// periodic: after one full pass the player returns to queued content.
func Repeating(categories []models.Category, id Identity) []models.Playlist {
	playlists := make([]models.Playlist, 0, len(categories))
	for _, category := range categories {
		playlists = append(playlists, models.Playlist{
			Type:     models.PlaylistRepeating,
			Category: category.ID,
			Start:    category.Start,
			End:      category.End,
			Items:    mergeSlots(category, id, func(models.Slot) bool { return false }),
		})
	}
	return playlists
}

// mergeSlots interleaves the category's slot files round-robin over a period
// equal to the LCM of the per-slot file counts, so every slot's files appear
// proportionally with no starvation. Output order is a pure function of the
// input.
func mergeSlots(category models.Category, id Identity, periodic func(models.Slot) bool) []models.PlaylistItem {
	slots := make([]models.Slot, 0, len(category.Slots))
	for _, slot := range category.Slots {
		if len(slot.Files) > 0 {
			slots = append(slots, slot)
		}
	}
	if len(slots) == 0 {
		return nil
	}

	period := 1
	for _, slot := range slots {
		period = lcm(period, len(slot.Files))
	}

	items := make([]models.PlaylistItem, 0, period*len(slots))
	for i := 0; i < period; i++ {
		for _, slot := range slots {
			file := slot.Files[i%len(slot.Files)]
			items = append(items, newItem(category, slot, file, id, periodic(slot)))
		}
	}
	return items
}

func newItem(category models.Category, slot models.Slot, file models.File, id Identity, periodic bool) models.PlaylistItem {
	return models.PlaylistItem{
		SourceURL:   file.VideoURL,
		Kind:        file.Kind,
		TagURL:      file.TagURL,
		ExternalURL: file.ExternalURL,
		RunningTime: file.RunningTime,
		CategoryID:  category.ID,
		SlotID:      slot.ID,
		Periodic:    periodic,
		Report: models.Report{
			CompanyID:   id.CompanyID,
			DeviceID:    id.DeviceID,
			FileID:      file.ID,
			ExternalURL: file.ExternalURL,
		},
	}
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

// RequiredURLs returns the deduplicated union of source URLs referenced by
// the given playlists. External and ad-tag items contribute their concrete
// video URL only when one is known.
func RequiredURLs(playlists []models.Playlist) map[string]struct{} {
	required := make(map[string]struct{})
	for _, playlist := range playlists {
		for _, item := range playlist.Items {
			if item.SourceURL != "" {
				required[item.SourceURL] = struct{}{}
			}
		}
	}
	return required
}

// WindowFor derives the concrete daily window of a category on the given
// day, handling windows that span midnight (end on the next day).
func WindowFor(category models.Category, day time.Time) (start, end time.Time) {
	start = time.Date(day.Year(), day.Month(), day.Day(),
		category.Start.Hour(), category.Start.Minute(), category.Start.Second(), 0, day.Location())
	end = time.Date(day.Year(), day.Month(), day.Day(),
		category.End.Hour(), category.End.Minute(), category.End.Second(), 0, day.Location())
	if !end.After(start) {
		end = end.Add(24 * time.Hour)
	}
	return start, end
}
