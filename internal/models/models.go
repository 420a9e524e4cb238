/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// PlaylistType enumerates the three schedule classes.
type PlaylistType string

const (
	PlaylistNormal    PlaylistType = "normal"
	PlaylistEmergency PlaylistType = "emergency"
	PlaylistRepeating PlaylistType = "repeating"
)

// FileKind enumerates creative kinds.
type FileKind string

const (
	FilePlain    FileKind = "plain"
	FileAdTag    FileKind = "ad_tag"
	FileExternal FileKind = "external_url"
)

// File is one creative inside a slot.
type File struct {
	ID          string
	VideoURL    string
	ExternalURL string
	TagURL      string
	Kind        FileKind
	RunningTime time.Duration
}

// Slot is a named sub-rotation of creatives within a category.
type Slot struct {
	ID         string
	Name       string
	CategoryID string
	Files      []File
	MultiDay   bool
}

// Category owns ordered slots and a daily time window [Start, End).
type Category struct {
	ID    string
	Name  string
	Start time.Time
	End   time.Time
	Slots []Slot
}

// Report is the mutable per-item playback record sent to the server.
type Report struct {
	CompanyID   string    `json:"company_id"`
	DeviceID    string    `json:"device_id"`
	FileID      string    `json:"file_id"`
	ExternalURL string    `json:"external_url,omitempty"`
	ResolvedURL string    `json:"resolved_url,omitempty"`
	PlayedAt    time.Time `json:"played_at"`
}

// PlaylistItem is one compiled playlist position.
type PlaylistItem struct {
	SourceURL   string
	Kind        FileKind
	TagURL      string
	ExternalURL string
	RunningTime time.Duration
	CategoryID  string
	SlotID      string
	Periodic    bool

	// Set by the ad resolver when Kind == FileAdTag.
	ResolvedURL string
	ReportURL   string

	Report Report
}

// Identity returns the stable identity used for resume matching:
// external creatives resume by URL, everything else by file id.
func (it PlaylistItem) Identity() string {
	if it.Kind == FileExternal {
		return it.ExternalURL
	}
	return it.Report.FileID
}

// Playlist is an ordered item sequence with a schedule-class tag.
type Playlist struct {
	Type     PlaylistType
	Category string
	Start    time.Time
	End      time.Time
	Items    []PlaylistItem
}

// ResumeRecord stores the last played identity, one row per device.
type ResumeRecord struct {
	DeviceID   string `gorm:"primaryKey"`
	CategoryID string
	SlotID     string
	FileID     string
	Index      int
	StoredAt   time.Time `gorm:"index"`
}

// ReportRecord is a pending playback report awaiting batch submission.
type ReportRecord struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	CompanyID   string
	DeviceID    string `gorm:"index"`
	FileID      string
	ExternalURL string
	ResolvedURL string
	PlayedAt    time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// CacheMark records that the daily cache fill ran, one row per device per day.
type CacheMark struct {
	ID       uint   `gorm:"primaryKey"`
	DeviceID string `gorm:"index:idx_cache_mark_device_day"`
	Day      string `gorm:"index:idx_cache_mark_device_day"` // yyyymmdd
	CachedAt time.Time
}

// DeviceIdentity is the locally persisted registration result.
type DeviceIdentity struct {
	DeviceID  string `gorm:"primaryKey"`
	CompanyID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LiveUpdate records a consumed pub/sub message for deduplication.
type LiveUpdate struct {
	Event      string `gorm:"primaryKey;type:varchar(64)"`
	UUID       string `gorm:"primaryKey;type:uuid"`
	ReceivedAt time.Time
}
