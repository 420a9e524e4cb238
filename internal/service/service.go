/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package service orchestrates the refresh cycle: fetch schedules, compile
// playlists, reconcile the cache and install the day's triggers.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/podolabs/signaged/internal/adtag"
	"github.com/podolabs/signaged/internal/api"
	"github.com/podolabs/signaged/internal/cachemgr"
	"github.com/podolabs/signaged/internal/compile"
	"github.com/podolabs/signaged/internal/events"
	"github.com/podolabs/signaged/internal/jobs"
	"github.com/podolabs/signaged/internal/models"
	"github.com/podolabs/signaged/internal/player"
	"github.com/podolabs/signaged/internal/report"
	"github.com/podolabs/signaged/internal/resume"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	clockLayout = "15:04:05"
	// prerollLead is how long before an insert's window the ad tags are
	// resolved, so the creative URL is ready at the boundary.
	prerollLead = 2 * time.Minute
)

type Service struct {
	client    *api.Client
	db        *gorm.DB
	scheduler *jobs.Scheduler
	player    *player.Player
	cache     *cachemgr.Manager
	resolver  *adtag.Resolver
	tracker   *resume.Tracker
	reports   *report.Aggregator
	bus       *events.Bus
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	device  api.Device
	normals []models.Playlist
	cats    []models.Category
}

func New(client *api.Client, database *gorm.DB, scheduler *jobs.Scheduler, p *player.Player,
	cache *cachemgr.Manager, resolver *adtag.Resolver, tracker *resume.Tracker,
	reports *report.Aggregator, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		client:    client,
		db:        database,
		scheduler: scheduler,
		player:    p,
		cache:     cache,
		resolver:  resolver,
		tracker:   tracker,
		reports:   reports,
		bus:       bus,
		logger:    logger.With().Str("component", "service").Logger(),
		now:       time.Now,
	}
}

// Run consumes playback events until the context ends. Finished items
// carrying an impression URL get their ping here, off the player loop.
func (s *Service) Run(ctx context.Context) {
	finished := s.bus.Subscribe(events.EventItemFinished)
	for {
		select {
		case <-ctx.Done():
			s.bus.Unsubscribe(events.EventItemFinished, finished)
			return
		case payload := <-finished:
			reportURL, _ := payload["report_url"].(string)
			if reportURL == "" {
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := s.client.PingReportURL(pingCtx, reportURL); err != nil {
				s.logger.Warn().Err(err).Msg("impression ping failed")
			}
			cancel()
		}
	}
}

// Refresh is the full schedule cycle. sudo bypasses the same-day cache
// marker and refetches whatever is missing.
func (s *Service) Refresh(ctx context.Context, sudo bool) error {
	device, err := s.client.GetDevice(ctx)
	if err != nil {
		return fmt.Errorf("fetch device: %w", err)
	}
	if err := s.persistIdentity(ctx, device); err != nil {
		s.logger.Warn().Err(err).Msg("device identity persist failed")
	}
	s.postPlacement(ctx, device)

	normalSched, err := s.client.GetNormalSchedule(ctx)
	if err != nil {
		return fmt.Errorf("fetch normal schedule: %w", err)
	}
	emergencySched, err := s.client.GetEmergencySchedule(ctx)
	if err != nil {
		return fmt.Errorf("fetch emergency schedule: %w", err)
	}
	repeatingSched, err := s.client.GetRepeatingSchedule(ctx)
	if err != nil {
		return fmt.Errorf("fetch repeating schedule: %w", err)
	}

	normalCats, err := normalSched.Categories(time.Local)
	if err != nil {
		return fmt.Errorf("normal schedule: %w", err)
	}
	emergencyCats, err := emergencySched.Categories(time.Local)
	if err != nil {
		return fmt.Errorf("emergency schedule: %w", err)
	}
	repeatingCats, err := repeatingSched.Categories(time.Local)
	if err != nil {
		return fmt.Errorf("repeating schedule: %w", err)
	}

	id := compile.Identity{CompanyID: device.CompanyID, DeviceID: device.DeviceID}
	normals := compile.Normal(normalCats, id)
	emergencies := compile.Emergency(emergencyCats, id)
	repeatings := compile.Repeating(repeatingCats, id)

	// Normal rotation ad tags resolve inline; the rotation may activate
	// immediately after this refresh.
	for i := range normals {
		s.resolveTags(ctx, normals[i].Items)
	}

	required := make(map[string]struct{})
	for _, group := range [][]models.Playlist{normals, emergencies, repeatings} {
		for url := range compile.RequiredURLs(group) {
			required[url] = struct{}{}
		}
	}
	plan, err := s.cache.Reconcile(ctx, required, sudo)
	if err != nil {
		return fmt.Errorf("cache reconcile: %w", err)
	}
	if err := s.cache.Apply(ctx, plan); err != nil {
		s.logger.Warn().Err(err).Msg("cache fill incomplete, will retry next refresh")
	}

	s.mu.Lock()
	s.device = device
	s.normals = normals
	s.cats = normalCats
	s.mu.Unlock()

	// Old triggers go before new ones install.
	for _, purpose := range []jobs.Purpose{
		jobs.PurposeDayOn, jobs.PurposeDayOff,
		jobs.PurposeCategoryStart, jobs.PurposeCategoryEnd,
		jobs.PurposeReturn, jobs.PurposePreroll,
	} {
		s.scheduler.CancelAll(purpose)
	}

	s.installDayBoundary(device)
	s.installCategoryBoundaries(normalCats, normals)
	s.installInserts(emergencies, repeatings)

	if s.withinOnWindow(device, s.now()) {
		s.dayOn()
	} else {
		s.player.DayOff()
	}

	s.bus.Publish(events.EventScheduleRefreshed, events.Payload{"sudo": sudo})
	s.logger.Info().
		Int("normal", len(normals)).
		Int("emergency", len(emergencies)).
		Int("repeating", len(repeatings)).
		Bool("sudo", sudo).
		Msg("schedule refreshed")
	return nil
}

// InstallRecurring installs the cron triggers that survive refreshes: the
// watchdog, the report-flush sweep and the device's daily call time.
func (s *Service) InstallRecurring(device api.Device) error {
	if _, err := s.scheduler.ScheduleCron("* * * * *", jobs.PurposeWatchdog, s.watchdog); err != nil {
		return fmt.Errorf("install watchdog: %w", err)
	}
	if _, err := s.scheduler.ScheduleCron("* * * * *", jobs.PurposeReportFlush, s.flushStaleReports); err != nil {
		return fmt.Errorf("install report flush: %w", err)
	}

	if device.CallTime != "" {
		callAt, err := time.Parse(clockLayout, device.CallTime)
		if err != nil {
			return fmt.Errorf("parse call time %q: %w", device.CallTime, err)
		}
		expr := fmt.Sprintf("%d %d * * *", callAt.Minute(), callAt.Hour())
		_, err = s.scheduler.ScheduleCron(expr, jobs.PurposeCallTime, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if err := s.Refresh(ctx, true); err != nil {
				s.logger.Error().Err(err).Msg("call-time refresh failed")
			}
		})
		if err != nil {
			return fmt.Errorf("install call time: %w", err)
		}
	}
	return nil
}

// installDayBoundary installs the next day-on and day-off triggers. An
// off clock at or before the on clock means the window spans midnight.
func (s *Service) installDayBoundary(device api.Device) {
	now := s.now()
	onAt, offAt, _, err := dayWindow(device, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("unparseable day window")
		return
	}

	if onAt.Before(now) {
		onAt = onAt.Add(24 * time.Hour)
	}
	if offAt.Before(now) {
		offAt = offAt.Add(24 * time.Hour)
	}

	s.scheduleAt(onAt, jobs.PurposeDayOn, s.dayOn)
	s.scheduleAt(offAt, jobs.PurposeDayOff, s.player.DayOff)
}

// installCategoryBoundaries installs today's category-window switches for
// the normal rotation.
func (s *Service) installCategoryBoundaries(categories []models.Category, playlists []models.Playlist) {
	byCategory := make(map[string]models.Playlist, len(playlists))
	for _, playlist := range playlists {
		byCategory[playlist.Category] = playlist
	}

	today := s.now()
	for _, category := range categories {
		playlist, ok := byCategory[category.ID]
		if !ok || len(playlist.Items) == 0 {
			continue
		}
		start, end := compile.WindowFor(category, today)
		pl := playlist
		s.scheduleAt(start, jobs.PurposeCategoryStart, func() {
			if s.withinOnWindow(s.currentDevice(), s.now()) {
				s.player.ActivateNormal(pl)
			}
		})
		s.scheduleAt(end, jobs.PurposeCategoryEnd, s.reactivateCurrent)
	}
}

// installInserts installs emergency and repeating windows plus their ad
// preroll triggers.
func (s *Service) installInserts(emergencies, repeatings []models.Playlist) {
	for _, playlist := range emergencies {
		if len(playlist.Items) == 0 {
			continue
		}
		pl := playlist
		s.scheduleAt(pl.Start, jobs.PurposeCategoryStart, func() { s.player.Emergency(pl) })
		// Multi-day inserts hold the screen until their window closes.
		if pl.Items[0].Periodic {
			s.scheduleAt(pl.End, jobs.PurposeReturn, s.reactivateCurrent)
		}
		s.installPreroll(pl)
	}
	for _, playlist := range repeatings {
		if len(playlist.Items) == 0 {
			continue
		}
		pl := playlist
		s.scheduleAt(pl.Start, jobs.PurposeCategoryStart, func() { s.player.Repeating(pl) })
		s.installPreroll(pl)
	}
}

// installPreroll schedules tag resolution shortly before the playlist's
// window so boundary playback starts with concrete URLs.
func (s *Service) installPreroll(playlist models.Playlist) {
	if !hasAdTags(playlist.Items) {
		return
	}
	items := playlist.Items
	s.scheduleAt(playlist.Start.Add(-prerollLead), jobs.PurposePreroll, func() {
		ctx, cancel := context.WithTimeout(context.Background(), prerollLead)
		defer cancel()
		s.resolveTags(ctx, items)
	})
}

// resolveTags resolves every ad-tag item in place. Exhausted resolutions
// leave the item on its fallback creative.
func (s *Service) resolveTags(ctx context.Context, items []models.PlaylistItem) {
	for i := range items {
		if items[i].Kind != models.FileAdTag || items[i].TagURL == "" {
			continue
		}
		resolution, err := s.resolver.Resolve(ctx, items[i].TagURL)
		if err != nil {
			s.logger.Warn().Err(err).Str("tag_url", items[i].TagURL).Msg("tag resolution aborted")
			return
		}
		if !resolution.Success {
			continue
		}
		items[i].ResolvedURL = resolution.VideoURL
		items[i].ReportURL = resolution.ReportURL
		items[i].Report.ResolvedURL = resolution.VideoURL
	}
}

// dayOn activates the normal playlist whose category window covers now,
// falling back to the first compiled playlist.
func (s *Service) dayOn() {
	s.mu.Lock()
	normals := s.normals
	cats := s.cats
	s.mu.Unlock()

	if len(normals) == 0 {
		s.logger.Warn().Msg("day-on with no compiled normal playlists")
		return
	}

	now := s.now()
	selected := normals[0]
	for i, category := range cats {
		start, end := compile.WindowFor(category, now)
		if !now.Before(start) && now.Before(end) && i < len(normals) {
			selected = normals[i]
			break
		}
	}
	if len(selected.Items) == 0 {
		s.logger.Warn().Str("category", selected.Category).Msg("day-on playlist empty")
		return
	}
	s.player.DayOn(selected)
}

// reactivateCurrent returns the screen to whatever the normal rotation
// says should be playing now.
func (s *Service) reactivateCurrent() {
	if s.withinOnWindow(s.currentDevice(), s.now()) {
		s.dayOn()
	} else {
		s.player.DayOff()
	}
}

// watchdog re-evaluates the day state once a minute: a player found off
// inside the on-window is restarted, one found active outside it is shut
// down.
func (s *Service) watchdog() {
	device := s.currentDevice()
	if device.DeviceID == "" {
		return
	}
	within := s.withinOnWindow(device, s.now())
	state := s.player.CurrentState()

	switch {
	case within && (state == player.StateOff || state == player.StateEnded):
		s.logger.Info().Msg("watchdog restarting playback")
		s.dayOn()
	case !within && state != player.StateOff:
		s.logger.Info().Msg("watchdog stopping playback outside day window")
		s.player.DayOff()
	}
}

func (s *Service) flushStaleReports() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.reports.FlushIfStale(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("stale report flush failed")
	}
}

func (s *Service) persistIdentity(ctx context.Context, device api.Device) error {
	identity := models.DeviceIdentity{
		DeviceID:  device.DeviceID,
		CompanyID: device.CompanyID,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&identity).Error
}

// postPlacement reports position and lock state back; failures are logged
// and ignored, the next refresh repeats them.
func (s *Service) postPlacement(ctx context.Context, device api.Device) {
	position := api.Position{Top: device.Top, Left: device.Left, Width: device.Width, Height: device.Height}
	if err := s.client.PostPosition(ctx, position); err != nil {
		s.logger.Warn().Err(err).Msg("position post failed")
	}
	if err := s.client.PostLock(ctx, device.IsLocked()); err != nil {
		s.logger.Warn().Err(err).Msg("lock post failed")
	}
}

func (s *Service) scheduleAt(at time.Time, purpose jobs.Purpose, fn jobs.Action) {
	if _, err := s.scheduler.ScheduleAt(at, purpose, fn); err != nil {
		s.logger.Debug().Err(err).Str("purpose", string(purpose)).Time("at", at).Msg("trigger not installed")
	}
}

func (s *Service) currentDevice() api.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// withinOnWindow reports whether now falls inside the device's daily
// operating window, including windows that span midnight.
func (s *Service) withinOnWindow(device api.Device, now time.Time) bool {
	onAt, offAt, spans, err := dayWindow(device, now)
	if err != nil {
		return false
	}
	if !now.Before(onAt) && now.Before(offAt) {
		return true
	}
	// Spanning midnight: the tail of yesterday's window reaches into today.
	return spans && now.Before(offAt.Add(-24*time.Hour))
}

// dayWindow anchors the device's on/off clocks on now's date. An off
// clock at or before the on clock rolls to the next day.
func dayWindow(device api.Device, now time.Time) (onAt, offAt time.Time, spansMidnight bool, err error) {
	onClock, err := time.Parse(clockLayout, device.On)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("parse on clock %q: %w", device.On, err)
	}
	offClock, err := time.Parse(clockLayout, device.Off)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("parse off clock %q: %w", device.Off, err)
	}

	onAt = time.Date(now.Year(), now.Month(), now.Day(),
		onClock.Hour(), onClock.Minute(), onClock.Second(), 0, now.Location())
	offAt = time.Date(now.Year(), now.Month(), now.Day(),
		offClock.Hour(), offClock.Minute(), offClock.Second(), 0, now.Location())
	if !offAt.After(onAt) {
		offAt = offAt.Add(24 * time.Hour)
		spansMidnight = true
	}
	return onAt, offAt, spansMidnight, nil
}

func hasAdTags(items []models.PlaylistItem) bool {
	for _, item := range items {
		if item.Kind == models.FileAdTag {
			return true
		}
	}
	return false
}
