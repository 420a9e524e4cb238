package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/podolabs/signaged/internal/events"
	"github.com/podolabs/signaged/internal/models"
	"github.com/rs/zerolog"
)

type fakeSurface struct {
	mu       sync.Mutex
	loads    int
	plays    []int
	stops    int
	external []string
}

func (f *fakeSurface) Load([]models.PlaylistItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
}

func (f *fakeSurface) Play(index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, index)
}

func (f *fakeSurface) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeSurface) ShowExternal(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.external = append(f.external, url)
}

func (f *fakeSurface) lastPlay(t *testing.T) int {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.plays) == 0 {
		t.Fatal("no play calls")
	}
	return f.plays[len(f.plays)-1]
}

type fakeCache struct {
	mu   sync.Mutex
	urls map[string]bool
}

func newFakeCache(urls ...string) *fakeCache {
	c := &fakeCache{urls: make(map[string]bool)}
	for _, url := range urls {
		c.urls[url] = true
	}
	return c
}

func (f *fakeCache) Has(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.urls[url]
}

type fakeResume struct {
	mu     sync.Mutex
	index  int
	stored []int
}

func (f *fakeResume) SelectFor(context.Context, []models.PlaylistItem) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.index, nil
}

func (f *fakeResume) Store(_ context.Context, _ models.PlaylistItem, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, index)
	return nil
}

type fakeReporter struct {
	mu      sync.Mutex
	added   []models.Report
	flushes int
}

func (f *fakeReporter) Add(_ context.Context, report models.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, report)
	return nil
}

func (f *fakeReporter) FlushAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

type harness struct {
	player  *Player
	surface *fakeSurface
	cache   *fakeCache
	resume  *fakeResume
	reports *fakeReporter
}

func newHarness(t *testing.T, cached ...string) *harness {
	t.Helper()
	h := &harness{
		surface: &fakeSurface{},
		cache:   newFakeCache(cached...),
		resume:  &fakeResume{index: -1},
		reports: &fakeReporter{},
	}
	h.player = New(h.surface, h.cache, h.resume, h.reports, events.NewBus(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.player.Run(ctx)
	return h
}

// sync waits for all previously dispatched events to finish.
func (h *harness) sync() State {
	return h.player.CurrentState()
}

func normalPlaylist(urls ...string) models.Playlist {
	items := make([]models.PlaylistItem, len(urls))
	for i, url := range urls {
		items[i] = models.PlaylistItem{
			SourceURL:  url,
			Kind:       models.FilePlain,
			CategoryID: "c1",
			SlotID:     "s1",
			Periodic:   true,
			Report:     models.Report{FileID: url},
		}
	}
	return models.Playlist{Type: models.PlaylistNormal, Category: "c1", Items: items}
}

func emergencyPlaylist(urls ...string) models.Playlist {
	playlist := normalPlaylist(urls...)
	playlist.Type = models.PlaylistEmergency
	for i := range playlist.Items {
		playlist.Items[i].Periodic = false
	}
	return playlist
}

func repeatingPlaylist(urls ...string) models.Playlist {
	playlist := normalPlaylist(urls...)
	playlist.Type = models.PlaylistRepeating
	for i := range playlist.Items {
		playlist.Items[i].Periodic = false
	}
	return playlist
}

func TestEventLoopHandlersReceiveLoopContext(t *testing.T) {
	h := newHarness(t)

	got := make(chan context.Context, 1)
	h.player.dispatch(func(ctx context.Context) { got <- ctx })

	select {
	case ctx := <-got:
		if ctx == nil {
			t.Fatal("handler ran without the loop context")
		}
		if ctx.Err() != nil {
			t.Fatalf("loop context already done: %v", ctx.Err())
		}
	case <-time.After(time.Second):
		t.Fatal("dispatched event never ran")
	}
}

func TestDayOn_ActivatesAtResumeIndex(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	h.resume.index = 2

	h.player.DayOn(normalPlaylist("a", "b", "c"))
	if state := h.sync(); state != StateActive {
		t.Fatalf("state: %s", state)
	}
	if got := h.surface.lastPlay(t); got != 2 {
		t.Fatalf("start index: got %d want 2", got)
	}
}

func TestDayOn_NoRecordStartsAtZero(t *testing.T) {
	h := newHarness(t, "a")
	h.player.DayOn(normalPlaylist("a"))
	h.sync()
	if got := h.surface.lastPlay(t); got != 0 {
		t.Fatalf("start index: got %d want 0", got)
	}
}

func TestDayOff_FlushesOnceUntilNextDayOn(t *testing.T) {
	h := newHarness(t, "a")
	h.player.DayOn(normalPlaylist("a"))
	h.player.DayOff()
	if state := h.sync(); state != StateOff {
		t.Fatalf("state: %s", state)
	}
	if h.reports.flushes != 1 {
		t.Fatalf("flushes: got %d want 1", h.reports.flushes)
	}

	// Already ended: a second day-off must not flush again.
	h.player.DayOff()
	h.sync()
	if h.reports.flushes != 1 {
		t.Fatalf("flushes after repeat: got %d want 1", h.reports.flushes)
	}
}

func TestEmergency_PreemptsUnconditionallyAtZero(t *testing.T) {
	h := newHarness(t, "a", "b", "e1", "e2")
	h.resume.index = 1
	h.player.DayOn(normalPlaylist("a", "b"))
	h.sync()

	h.player.Emergency(emergencyPlaylist("e1", "e2"))
	h.sync()
	if got := h.surface.lastPlay(t); got != 0 {
		t.Fatalf("emergency start: got %d want 0", got)
	}
	if got := h.player.ActiveType(); got != models.PlaylistEmergency {
		t.Fatalf("active type: %s", got)
	}

	// Emergency preempts even another emergency.
	h.player.Emergency(emergencyPlaylist("e1"))
	h.sync()
	if got := h.player.ActiveType(); got != models.PlaylistEmergency {
		t.Fatalf("active type: %s", got)
	}
}

func TestRepeating_PreemptsOnlyNormal(t *testing.T) {
	h := newHarness(t, "a", "r1")
	h.player.DayOn(normalPlaylist("a"))
	h.player.Repeating(repeatingPlaylist("r1"))
	h.sync()
	if got := h.player.ActiveType(); got != models.PlaylistRepeating {
		t.Fatalf("active type: %s", got)
	}
}

func TestRepeating_QueuedBehindEmergency(t *testing.T) {
	h := newHarness(t, "a", "e1", "r1")
	h.player.DayOn(normalPlaylist("a"))
	h.player.Emergency(emergencyPlaylist("e1"))
	h.player.Repeating(repeatingPlaylist("r1"))
	h.sync()
	if got := h.player.ActiveType(); got != models.PlaylistEmergency {
		t.Fatalf("active type: %s", got)
	}

	// Single-item non-periodic emergency: finishing wraps, so the queued
	// repeating playlist plays before returning to normal.
	h.player.ItemFinished()
	h.sync()
	if got := h.player.ActiveType(); got != models.PlaylistRepeating {
		t.Fatalf("after emergency: %s", got)
	}

	h.player.ItemFinished()
	h.sync()
	if got := h.player.ActiveType(); got != models.PlaylistNormal {
		t.Fatalf("after repeating: %s", got)
	}
}

func TestItemFinished_AdvancesWhenNextCached(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	h.player.DayOn(normalPlaylist("a", "b", "c"))
	h.player.ItemFinished()
	h.sync()
	if got := h.surface.lastPlay(t); got != 1 {
		t.Fatalf("index: got %d want 1", got)
	}
}

func TestItemFinished_PeriodicSingleItemReenters(t *testing.T) {
	h := newHarness(t, "a")
	h.player.DayOn(normalPlaylist("a"))
	h.player.ItemFinished()
	h.sync()
	if got := h.surface.lastPlay(t); got != 0 {
		t.Fatalf("index: got %d want 0", got)
	}
}

func TestItemFinished_StoresResumeAndQueuesReport(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.player.DayOn(normalPlaylist("a", "b"))
	h.player.ItemFinished()
	h.sync()

	if len(h.resume.stored) != 1 || h.resume.stored[0] != 0 {
		t.Fatalf("resume stores: %v", h.resume.stored)
	}
	if len(h.reports.added) != 1 || h.reports.added[0].FileID != "a" {
		t.Fatalf("reports: %+v", h.reports.added)
	}
	if h.reports.added[0].PlayedAt.IsZero() {
		t.Fatal("report missing play timestamp")
	}
}

func TestNearestPlayable_ForwardBeforeWrap(t *testing.T) {
	// Five items, only 4 and 0 cached: an error at index 3 must jump
	// forward to 4, not wrap to 0.
	h := newHarness(t, "e", "a")
	h.resume.index = 3
	h.player.DayOn(normalPlaylist("a", "b", "c", "d", "e"))
	h.sync()

	h.player.PlaybackError()
	h.sync()
	if got := h.surface.lastPlay(t); got != 4 {
		t.Fatalf("index: got %d want 4", got)
	}
}

func TestNearestPlayable_WrapsWhenForwardExhausted(t *testing.T) {
	h := newHarness(t, "a")
	h.resume.index = 3
	h.player.DayOn(normalPlaylist("a", "b", "c", "d", "e"))
	h.sync()

	h.player.PlaybackError()
	h.sync()
	if got := h.surface.lastPlay(t); got != 0 {
		t.Fatalf("index: got %d want 0", got)
	}
}

func TestNearestPlayable_NothingPlayableStays(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.player.DayOn(normalPlaylist("a", "b"))
	h.sync()
	h.cache.mu.Lock()
	h.cache.urls = map[string]bool{}
	h.cache.mu.Unlock()

	h.player.PlaybackError()
	h.sync()
	if got := h.surface.lastPlay(t); got != 0 {
		t.Fatalf("index: got %d want 0", got)
	}
}

func TestItemFinished_ExternalNextInterrupts(t *testing.T) {
	h := newHarness(t, "a", "c")
	playlist := normalPlaylist("a", "", "c")
	playlist.Items[1].Kind = models.FileExternal
	playlist.Items[1].ExternalURL = "http://widget.example/board"
	playlist.Items[1].RunningTime = 30 * time.Millisecond

	h.player.DayOn(playlist)
	h.player.ItemFinished()
	if state := h.sync(); state != StateInterrupted {
		t.Fatalf("state: %s", state)
	}
	h.surface.mu.Lock()
	external := append([]string(nil), h.surface.external...)
	h.surface.mu.Unlock()
	if len(external) != 1 || external[0] != "http://widget.example/board" {
		t.Fatalf("external: %v", external)
	}

	// After the declared running time the player re-evaluates and moves on.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.sync() == StateActive && h.surface.lastPlay(t) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("never resumed, state %s", h.sync())
}

func TestPlaybackError_ExternalItemInterrupts(t *testing.T) {
	h := newHarness(t)
	playlist := normalPlaylist("")
	playlist.Items[0].Kind = models.FileExternal
	playlist.Items[0].ExternalURL = "http://widget.example/board"
	playlist.Items[0].RunningTime = time.Minute

	h.player.DayOn(playlist)
	h.sync()
	h.player.PlaybackError()
	if state := h.sync(); state != StateInterrupted {
		t.Fatalf("state: %s", state)
	}
}

func TestActivateNormal_SwitchesActiveRotation(t *testing.T) {
	h := newHarness(t, "a", "x", "y")
	h.player.DayOn(normalPlaylist("a"))
	h.sync()

	next := normalPlaylist("x", "y")
	next.Category = "c2"
	h.player.ActivateNormal(next)
	h.sync()
	if got := h.surface.lastPlay(t); got != 0 {
		t.Fatalf("index: got %d", got)
	}
	if got := h.player.ActiveType(); got != models.PlaylistNormal {
		t.Fatalf("type: %s", got)
	}
}
