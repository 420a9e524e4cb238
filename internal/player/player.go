/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player is the playback orchestrator: a state machine owning the
// active playlist, its current index and the ended flag. All transitions
// are serialized; boundary triggers, surface events and the interrupted
// re-evaluation timer never interleave.
package player

import (
	"context"
	"sort"
	"time"

	"github.com/podolabs/signaged/internal/events"
	"github.com/podolabs/signaged/internal/models"
	"github.com/podolabs/signaged/internal/telemetry"
	"github.com/rs/zerolog"
)

// State is the coarse player state.
type State string

const (
	StateOff         State = "off"
	StateActive      State = "active"
	StateInterrupted State = "interrupted"
	StateEnded       State = "ended"
)

// Surface is the media playback surface. The player treats it as an opaque
// sink: it loads an ordered source list and jumps between indexes; the
// surface reports back through ItemFinished and PlaybackError.
type Surface interface {
	Load(items []models.PlaylistItem)
	Play(index int)
	Stop()
	ShowExternal(url string)
}

// CacheChecker answers presence queries against the object cache.
type CacheChecker interface {
	Has(url string) bool
}

// ResumeSource selects restart indexes and persists play positions.
type ResumeSource interface {
	SelectFor(ctx context.Context, items []models.PlaylistItem) (int, error)
	Store(ctx context.Context, item models.PlaylistItem, index int) error
}

// Reporter receives completed-item records.
type Reporter interface {
	Add(ctx context.Context, report models.Report) error
	FlushAll(ctx context.Context) error
}

type Player struct {
	surface Surface
	cache   CacheChecker
	resume  ResumeSource
	reports Reporter
	bus     *events.Bus
	logger  zerolog.Logger
	now     func() time.Time

	run chan func(context.Context)

	state         State
	active        *models.Playlist
	index         int
	ended         bool
	defaultNormal *models.Playlist
	repeatQueue   []models.Playlist
	normalQueue   []models.Playlist
	interruptTmr  *time.Timer
}

func New(surface Surface, cache CacheChecker, resume ResumeSource, reports Reporter, bus *events.Bus, logger zerolog.Logger) *Player {
	return &Player{
		surface: surface,
		cache:   cache,
		resume:  resume,
		reports: reports,
		bus:     bus,
		logger:  logger.With().Str("component", "player").Logger(),
		now:     time.Now,
		run:     make(chan func(context.Context), 64),
		state:   StateOff,
		index:   -1,
	}
}

// Run drives the event loop until the context ends. Every trigger and
// surface event executes here, one at a time.
func (p *Player) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.stopInterruptTimer()
			return
		case fn := <-p.run:
			fn(ctx)
		}
	}
}

func (p *Player) dispatch(fn func(context.Context)) {
	select {
	case p.run <- fn:
	default:
		p.logger.Warn().Msg("player event queue full, dropping event")
	}
}

// State reports the current coarse state. Only meaningful between events.
func (p *Player) CurrentState() State {
	done := make(chan State, 1)
	p.dispatch(func(context.Context) { done <- p.state })
	return <-done
}

// ActiveType reports the active playlist's type, or empty when off.
func (p *Player) ActiveType() models.PlaylistType {
	done := make(chan models.PlaylistType, 1)
	p.dispatch(func(context.Context) {
		if p.active == nil {
			done <- ""
			return
		}
		done <- p.active.Type
	})
	return <-done
}

// DayOn activates the normal rotation at the resume-selected index and
// clears the ended flag.
func (p *Player) DayOn(playlist models.Playlist) {
	p.dispatch(func(ctx context.Context) {
		p.ended = false
		p.defaultNormal = &playlist
		index, err := p.resume.SelectFor(ctx, playlist.Items)
		if err != nil {
			p.logger.Warn().Err(err).Msg("resume selection failed, starting from beginning")
			index = -1
		}
		if index < 0 {
			index = 0
		}
		p.activate(ctx, playlist, index)
		p.bus.Publish(events.EventDayOn, events.Payload{"category": playlist.Category})
	})
}

// DayOff stops playback and flushes pending reports unless already ended.
func (p *Player) DayOff() {
	p.dispatch(func(ctx context.Context) {
		wasEnded := p.ended
		p.stopInterruptTimer()
		p.surface.Stop()
		p.active = nil
		p.index = -1
		p.ended = true
		p.setState(StateOff)
		p.bus.Publish(events.EventDayOff, nil)
		if !wasEnded {
			if err := p.reports.FlushAll(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("day-off report flush failed")
			}
		}
	})
}

// Emergency preempts whatever is playing, unconditionally, at index 0.
func (p *Player) Emergency(playlist models.Playlist) {
	p.dispatch(func(ctx context.Context) {
		p.stashActive()
		p.activate(ctx, playlist, 0)
	})
}

// Repeating preempts only the normal rotation; against anything else the
// request is queued, to be drained ahead of any queued normal playlist.
func (p *Player) Repeating(playlist models.Playlist) {
	p.dispatch(func(ctx context.Context) {
		if p.state == StateActive && p.active != nil && p.active.Type == models.PlaylistNormal {
			p.stashActive()
			p.activate(ctx, playlist, 0)
			return
		}
		p.repeatQueue = append(p.repeatQueue, playlist)
		p.logger.Debug().Str("category", playlist.Category).Msg("repeating playlist queued")
	})
}

// ActivateNormal replaces the normal rotation at a category boundary. An
// active normal rotation switches over immediately; otherwise the new
// rotation becomes the default to return to.
func (p *Player) ActivateNormal(playlist models.Playlist) {
	p.dispatch(func(ctx context.Context) {
		p.defaultNormal = &playlist
		if p.state == StateActive && p.active != nil && p.active.Type == models.PlaylistNormal {
			index, err := p.resume.SelectFor(ctx, playlist.Items)
			if err != nil || index < 0 {
				index = 0
			}
			p.activate(ctx, playlist, index)
		}
	})
}

// ItemFinished is the surface's completion callback for the current item.
func (p *Player) ItemFinished() {
	p.dispatch(p.itemFinished)
}

// PlaybackError is the surface's failure callback for the current item.
func (p *Player) PlaybackError() {
	p.dispatch(func(ctx context.Context) {
		item, ok := p.currentItem()
		if !ok {
			return
		}
		p.bus.Publish(events.EventPlaybackError, events.Payload{"index": p.index})
		if item.Kind == models.FileExternal {
			p.interrupt(item)
			return
		}
		p.jumpNearest(ctx)
	})
}

func (p *Player) itemFinished(ctx context.Context) {
	item, ok := p.currentItem()
	if !ok {
		return
	}

	p.finishReport(ctx, item)
	p.bus.Publish(events.EventItemFinished, events.Payload{
		"index":      p.index,
		"report_url": item.ReportURL,
	})

	next := p.nearest(p.index)
	wrapped := next <= p.index

	switch {
	case !item.Periodic && p.active.Type != models.PlaylistNormal && wrapped:
		p.switchToNext(ctx)
	case p.playableAt(p.advanceIndex()):
		p.playAt(ctx, p.advanceIndex())
	case p.itemAt(p.advanceIndex()).Kind == models.FileExternal:
		p.index = p.advanceIndex()
		p.interrupt(p.active.Items[p.index])
	default:
		p.jumpNearest(ctx)
	}
}

// finishReport stores the resume cursor and queues the playback record.
func (p *Player) finishReport(ctx context.Context, item models.PlaylistItem) {
	if p.active.Type == models.PlaylistNormal {
		if err := p.resume.Store(ctx, item, p.index); err != nil {
			p.logger.Warn().Err(err).Msg("resume store failed")
		}
	}
	if err := p.reports.Add(ctx, item.Report); err != nil {
		p.logger.Warn().Err(err).Msg("report queue failed")
	}
}

// switchToNext drains the repeating queue, then the normal queue, then
// falls back to the default normal rotation. With nothing to play the
// player ends.
func (p *Player) switchToNext(ctx context.Context) {
	var next models.Playlist
	switch {
	case len(p.repeatQueue) > 0:
		next, p.repeatQueue = p.repeatQueue[0], p.repeatQueue[1:]
	case len(p.normalQueue) > 0:
		next, p.normalQueue = p.normalQueue[0], p.normalQueue[1:]
	case p.defaultNormal != nil:
		next = *p.defaultNormal
	default:
		p.surface.Stop()
		p.active = nil
		p.index = -1
		p.ended = true
		p.setState(StateEnded)
		return
	}

	index, err := p.resume.SelectFor(ctx, next.Items)
	if err != nil || index < 0 {
		index = 0
	}
	p.activate(ctx, next, index)
}

func (p *Player) activate(ctx context.Context, playlist models.Playlist, index int) {
	if len(playlist.Items) == 0 {
		p.logger.Warn().Str("category", playlist.Category).Msg("refusing to activate empty playlist")
		return
	}
	if index >= len(playlist.Items) {
		index = 0
	}
	p.stopInterruptTimer()
	p.active = &playlist
	p.surface.Load(playlist.Items)
	p.setState(StateActive)
	p.bus.Publish(events.EventPlaylistActivated, events.Payload{
		"type":     string(playlist.Type),
		"category": playlist.Category,
	})
	p.playAt(ctx, index)
}

func (p *Player) playAt(_ context.Context, index int) {
	p.index = index
	p.active.Items[index].Report.PlayedAt = p.now()
	p.surface.Play(index)
	p.bus.Publish(events.EventItemStarted, events.Payload{"index": index})
}

// interrupt shows external content and re-evaluates after its declared
// running time.
func (p *Player) interrupt(item models.PlaylistItem) {
	p.setState(StateInterrupted)
	p.surface.ShowExternal(item.ExternalURL)
	p.bus.Publish(events.EventInterrupted, events.Payload{"url": item.ExternalURL})

	duration := item.RunningTime
	if duration <= 0 {
		duration = 10 * time.Second
	}
	item.Report.PlayedAt = p.now()
	p.active.Items[p.index].Report.PlayedAt = item.Report.PlayedAt

	p.stopInterruptTimer()
	p.interruptTmr = time.AfterFunc(duration, func() {
		p.dispatch(func(ctx context.Context) {
			if p.state != StateInterrupted {
				return
			}
			p.setState(StateActive)
			p.itemFinished(ctx)
		})
	})
}

func (p *Player) jumpNearest(ctx context.Context) {
	next := p.nearest(p.index)
	if p.itemAt(next).Kind == models.FileExternal && !p.playableSource(p.itemAt(next)) {
		p.index = next
		p.interrupt(p.active.Items[next])
		return
	}
	p.playAt(ctx, next)
}

// nearest returns the closest playable index searching forward first,
// wrapping to the start only after forward candidates are exhausted. With
// nothing playable the current index is returned unchanged.
func (p *Player) nearest(current int) int {
	n := len(p.active.Items)
	type candidate struct {
		index    int
		distance int
	}
	candidates := make([]candidate, 0, n-1)
	for idx := 0; idx < n; idx++ {
		if idx == current {
			continue
		}
		candidates = append(candidates, candidate{index: idx, distance: idx - current})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].distance, candidates[j].distance
		if (a > 0) != (b > 0) {
			return a > 0
		}
		return a < b
	})
	for _, c := range candidates {
		if p.playableAt(c.index) || p.itemAt(c.index).Kind == models.FileExternal {
			return c.index
		}
	}
	return current
}

func (p *Player) playableAt(index int) bool {
	return p.playableSource(p.itemAt(index))
}

func (p *Player) playableSource(item models.PlaylistItem) bool {
	if item.Kind == models.FileAdTag && item.ResolvedURL != "" {
		return true
	}
	return item.SourceURL != "" && p.cache.Has(item.SourceURL)
}

func (p *Player) itemAt(index int) models.PlaylistItem {
	return p.active.Items[index]
}

func (p *Player) advanceIndex() int {
	return (p.index + 1) % len(p.active.Items)
}

func (p *Player) currentItem() (models.PlaylistItem, bool) {
	if p.active == nil || p.index < 0 || p.index >= len(p.active.Items) {
		return models.PlaylistItem{}, false
	}
	return p.active.Items[p.index], true
}

// stashActive remembers a preempted normal rotation so a later switch can
// return to it.
func (p *Player) stashActive() {
	if p.active != nil && p.active.Type == models.PlaylistNormal {
		p.defaultNormal = p.active
	}
}

func (p *Player) setState(state State) {
	if p.state == state {
		return
	}
	p.state = state
	telemetry.PlayerTransitionsTotal.WithLabelValues(string(state)).Inc()
	p.logger.Info().Str("state", string(state)).Msg("player state changed")
}

func (p *Player) stopInterruptTimer() {
	if p.interruptTmr != nil {
		p.interruptTmr.Stop()
		p.interruptTmr = nil
	}
}
