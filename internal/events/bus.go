/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventItemFinished  EventType = "playback.item_finished"
	EventItemStarted   EventType = "playback.item_started"
	EventPlaybackError EventType = "playback.error"
	EventDayOn         EventType = "day.on"
	EventDayOff        EventType = "day.off"
	EventInterrupted   EventType = "playback.interrupted"

	EventPlaylistActivated EventType = "playlist.activated"
	EventScheduleRefreshed EventType = "schedule.refreshed"
	EventReportQueued      EventType = "report.queued"
	EventReportFlushed     EventType = "report.flushed"

	EventCacheFetched EventType = "cache.fetched"
	EventCacheEvicted EventType = "cache.evicted"

	EventLiveUpdate EventType = "live.update"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Sends never block, so the lock
// is held through the loop; Unsubscribe closes channels under the write
// lock and can therefore never race a send.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
