/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cachemgr

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/podolabs/signaged/internal/compile"
	"github.com/podolabs/signaged/internal/models"
	"github.com/podolabs/signaged/internal/telemetry"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const dayFormat = "20060102"

// Plan is the outcome of a reconciliation pass.
type Plan struct {
	ToFetch  []string
	ToDelete []string
	// Suppressed is set when the same-day marker short-circuited the pass.
	Suppressed bool
}

// Manager reconciles the object store against the required URL set and
// performs the sequential fetch batches.
type Manager struct {
	store        *Store
	db           *gorm.DB
	client       *http.Client
	logger       zerolog.Logger
	deviceID     string
	fetchTimeout time.Duration
	now          func() time.Time
}

// New creates a cache manager. fetchTimeout bounds each individual fetch;
// there is no per-item retry, the next reconcile pass picks up what failed.
func New(store *Store, database *gorm.DB, deviceID string, fetchTimeout time.Duration, logger zerolog.Logger) *Manager {
	if fetchTimeout <= 0 {
		fetchTimeout = 2 * time.Minute
	}
	return &Manager{
		store:        store,
		db:           database,
		client:       &http.Client{},
		logger:       logger.With().Str("component", "cachemgr").Logger(),
		deviceID:     deviceID,
		fetchTimeout: fetchTimeout,
		now:          time.Now,
	}
}

// RequiredSet returns the deduplicated union of source URLs referenced by
// the compiled playlists.
func (m *Manager) RequiredSet(playlists []models.Playlist) map[string]struct{} {
	return compile.RequiredURLs(playlists)
}

// Reconcile compares the required set against the cached keys. With a
// same-day marker present the pass is suppressed unless force is set.
// Eviction is usage driven: whatever is cached but no longer required is
// deleted on the next applied plan, regardless of recency.
func (m *Manager) Reconcile(ctx context.Context, required map[string]struct{}, force bool) (Plan, error) {
	if !force {
		marked, err := m.markedToday(ctx)
		if err != nil {
			return Plan{}, err
		}
		if marked {
			m.logger.Debug().Msg("same-day cache marker present, reconciliation suppressed")
			return Plan{Suppressed: true}, nil
		}
	}

	cached, err := m.store.Keys()
	if err != nil {
		return Plan{}, err
	}

	var plan Plan
	cachedSet := make(map[string]struct{}, len(cached))
	for _, url := range cached {
		cachedSet[url] = struct{}{}
		if _, ok := required[url]; !ok {
			plan.ToDelete = append(plan.ToDelete, url)
		}
	}
	for url := range required {
		if _, ok := cachedSet[url]; !ok {
			plan.ToFetch = append(plan.ToFetch, url)
		}
	}
	sort.Strings(plan.ToFetch)
	sort.Strings(plan.ToDelete)
	return plan, nil
}

// Apply evicts then fetches according to the plan and records the day
// marker once the fetch batch completes.
func (m *Manager) Apply(ctx context.Context, plan Plan) error {
	if plan.Suppressed {
		return nil
	}
	m.Evict(plan.ToDelete)
	return m.FetchAll(ctx, plan.ToFetch)
}

// FetchAll fetches URLs strictly sequentially to bound outbound bandwidth.
// Individual failures are logged and skipped; the batch continues. On
// completion the cached-on marker for the day is recorded.
func (m *Manager) FetchAll(ctx context.Context, urls []string) error {
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.store.Has(url) {
			continue
		}
		if err := m.fetchOne(ctx, url); err != nil {
			telemetry.CacheFetchesTotal.WithLabelValues("error").Inc()
			m.logger.Warn().Err(err).Str("url", url).Msg("cache fetch failed, skipping")
			continue
		}
		telemetry.CacheFetchesTotal.WithLabelValues("ok").Inc()
	}
	return m.mark(ctx)
}

// Evict deletes entries absent from the required set.
func (m *Manager) Evict(urls []string) {
	for _, url := range urls {
		if err := m.store.Delete(url); err != nil {
			m.logger.Warn().Err(err).Str("url", url).Msg("cache eviction failed")
			continue
		}
		telemetry.CacheEvictionsTotal.Inc()
		m.logger.Debug().Str("url", url).Msg("cache entry evicted")
	}
}

// Has reports whether url is present in the cache.
func (m *Manager) Has(url string) bool {
	return m.store.Has(url)
}

// DeleteEntry removes a single cached URL (one-shot resolved creatives).
func (m *Manager) DeleteEntry(url string) error {
	return m.store.Delete(url)
}

func (m *Manager) fetchOne(ctx context.Context, url string) error {
	start := m.now()
	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := m.store.Put(url, resp.Body); err != nil {
		return err
	}
	telemetry.CacheFetchDuration.Observe(m.now().Sub(start).Seconds())
	return nil
}

func (m *Manager) markedToday(ctx context.Context) (bool, error) {
	var count int64
	err := m.db.WithContext(ctx).
		Model(&models.CacheMark{}).
		Where("device_id = ? AND day = ?", m.deviceID, m.now().Format(dayFormat)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("query cache marker: %w", err)
	}
	return count > 0, nil
}

func (m *Manager) mark(ctx context.Context) error {
	mark := models.CacheMark{
		DeviceID: m.deviceID,
		Day:      m.now().Format(dayFormat),
		CachedAt: m.now(),
	}
	return m.db.WithContext(ctx).Create(&mark).Error
}
