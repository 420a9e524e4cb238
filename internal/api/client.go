/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api is the HTTP client for the signage data source. Every request
// carries the company token and the device identity headers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/podolabs/signaged/internal/models"
	"github.com/rs/zerolog"
)

const (
	pathDevice       = "devices"
	pathPosition     = "devices/position"
	pathPositionLock = "devices/position/locked"
	pathNormal       = "schedules/normal"
	pathEmergency    = "schedules/emergency"
	pathRepeating    = "schedules/repeating"
	pathReport       = "report"
	pathLiveAck      = "live/ack"
	pathDate         = "date"
)

// Client talks to the data source API.
type Client struct {
	base     *url.URL
	http     *http.Client
	token    string
	deviceID string
	logger   zerolog.Logger
}

func NewClient(baseURL, token, deviceID string, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	return &Client{
		base:     base,
		http:     &http.Client{Timeout: 30 * time.Second},
		token:    token,
		deviceID: deviceID,
		logger:   logger.With().Str("component", "api").Logger(),
	}, nil
}

// Device is the registration and runtime config record for this device.
type Device struct {
	DeviceID  string `json:"device_id"`
	CompanyID string `json:"company_id"`
	On        string `json:"on"`  // HH:MM:SS day-on
	Off       string `json:"off"` // HH:MM:SS day-off, may precede On (spans midnight)
	CallTime  string `json:"call_time"`
	Locked    string `json:"locked"` // Y/N
	Top       int    `json:"top"`
	Left      int    `json:"left"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// IsLocked reports whether position and size are locked server-side.
func (d Device) IsLocked() bool { return d.Locked == "Y" }

// Position is the screen placement posted back to the server.
type Position struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Schedule is a raw schedule payload: category windows plus the slot/file
// tree, matched by category id.
type Schedule struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Items   []CategoryWindow `json:"items"`
	Slots   []CategoryGroup  `json:"slots"`
}

// CategoryWindow is one category's play window.
type CategoryWindow struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	StartDT      string `json:"start_dt"` // 2006-01-02 15:04:05
	EndDT        string `json:"end_dt"`
}

// CategoryGroup holds the slots belonging to one category.
type CategoryGroup struct {
	CategoryID string `json:"category_id"`
	MultiYN    string `json:"multi_yn"`
	Slots      []Slot `json:"slots"`
}

// Slot is one sub-rotation inside a category group.
type Slot struct {
	SlotID     string      `json:"slot_id"`
	SlotName   string      `json:"slot_name"`
	CategoryID string      `json:"category_id"`
	Files      []FileEntry `json:"files"`
}

// FileEntry is one creative as served by the data source.
type FileEntry struct {
	FileID      string `json:"file_id"`
	VideoURL    string `json:"video_url"`
	ExternalURL string `json:"external_url"`
	TagURL      string `json:"tag_url"`
	URLYN       string `json:"url_yn"`
	TagYN       string `json:"tag_yn"`
	RunningTime int    `json:"running_time"` // seconds
}

// Kind maps the payload's flag pair onto a creative kind.
func (f FileEntry) Kind() models.FileKind {
	switch {
	case f.URLYN == "Y":
		return models.FileExternal
	case f.TagYN == "Y":
		return models.FileAdTag
	default:
		return models.FilePlain
	}
}

const scheduleTimeLayout = "2006-01-02 15:04:05"

// Categories joins the window list with the slot tree into the compiler's
// input model. Windows without a matching slot group produce a category
// with no slots, which the compiler skips.
func (s Schedule) Categories(loc *time.Location) ([]models.Category, error) {
	groups := make(map[string]CategoryGroup, len(s.Slots))
	for _, group := range s.Slots {
		if _, ok := groups[group.CategoryID]; !ok {
			groups[group.CategoryID] = group
		}
	}

	categories := make([]models.Category, 0, len(s.Items))
	for _, window := range s.Items {
		start, err := time.ParseInLocation(scheduleTimeLayout, window.StartDT, loc)
		if err != nil {
			return nil, fmt.Errorf("category %s start: %w", window.CategoryID, err)
		}
		end, err := time.ParseInLocation(scheduleTimeLayout, window.EndDT, loc)
		if err != nil {
			return nil, fmt.Errorf("category %s end: %w", window.CategoryID, err)
		}

		category := models.Category{
			ID:    window.CategoryID,
			Name:  window.CategoryName,
			Start: start,
			End:   end,
		}
		group := groups[window.CategoryID]
		for _, slot := range group.Slots {
			files := make([]models.File, 0, len(slot.Files))
			for _, entry := range slot.Files {
				files = append(files, models.File{
					ID:          entry.FileID,
					VideoURL:    entry.VideoURL,
					ExternalURL: entry.ExternalURL,
					TagURL:      entry.TagURL,
					Kind:        entry.Kind(),
					RunningTime: time.Duration(entry.RunningTime) * time.Second,
				})
			}
			category.Slots = append(category.Slots, models.Slot{
				ID:         slot.SlotID,
				Name:       slot.SlotName,
				CategoryID: slot.CategoryID,
				Files:      files,
				MultiDay:   group.MultiYN == "Y",
			})
		}
		categories = append(categories, category)
	}
	return categories, nil
}

// GetDevice fetches the device config.
func (c *Client) GetDevice(ctx context.Context) (Device, error) {
	var device Device
	err := c.get(ctx, pathDevice, &device)
	return device, err
}

// GetNormalSchedule fetches the normal rotation payload.
func (c *Client) GetNormalSchedule(ctx context.Context) (Schedule, error) {
	var schedule Schedule
	err := c.get(ctx, pathNormal, &schedule)
	return schedule, err
}

// GetEmergencySchedule fetches the emergency insert payload.
func (c *Client) GetEmergencySchedule(ctx context.Context) (Schedule, error) {
	var schedule Schedule
	err := c.get(ctx, pathEmergency, &schedule)
	return schedule, err
}

// GetRepeatingSchedule fetches the repeating insert payload.
func (c *Client) GetRepeatingSchedule(ctx context.Context) (Schedule, error) {
	var schedule Schedule
	err := c.get(ctx, pathRepeating, &schedule)
	return schedule, err
}

// GetDate fetches the server's current time, used to sanity-check the
// device clock before installing boundary jobs.
func (c *Client) GetDate(ctx context.Context) (time.Time, error) {
	var payload struct {
		Date string `json:"date"`
	}
	if err := c.get(ctx, pathDate, &payload); err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(scheduleTimeLayout, payload.Date, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse server date: %w", err)
	}
	return t, nil
}

// PostReports submits a playback report batch.
func (c *Client) PostReports(ctx context.Context, reports []models.Report) error {
	return c.post(ctx, pathReport, reports)
}

// PostAck acknowledges a consumed live-update message.
func (c *Client) PostAck(ctx context.Context, event, uuid string) error {
	return c.post(ctx, pathLiveAck, map[string]string{"event": event, "uuid": uuid})
}

// PostPosition reports the current screen placement.
func (c *Client) PostPosition(ctx context.Context, position Position) error {
	return c.post(ctx, pathPosition, position)
}

// PostLock reports the position lock state.
func (c *Client) PostLock(ctx context.Context, locked bool) error {
	flag := "N"
	if locked {
		flag = "Y"
	}
	return c.post(ctx, pathPositionLock, map[string]string{"locked": flag})
}

// PingReportURL fires a resolved creative's impression URL. The response
// body is irrelevant; only delivery matters.
func (c *Client) PingReportURL(ctx context.Context, reportURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reportURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", path, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("auth", c.token)
	req.Header.Set("device_id", c.deviceID)
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
