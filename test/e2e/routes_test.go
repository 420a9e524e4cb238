//go:build e2e

/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/podolabs/signaged/internal/events"
	"github.com/podolabs/signaged/internal/models"
	"github.com/podolabs/signaged/internal/player"
	"github.com/podolabs/signaged/internal/server"
)

type stubCache struct{}

func (stubCache) Has(string) bool { return false }

type stubResume struct{}

func (stubResume) SelectFor(context.Context, []models.PlaylistItem) (int, error) { return -1, nil }

func (stubResume) Store(context.Context, models.PlaylistItem, int) error { return nil }

type stubReporter struct{}

func (stubReporter) Add(context.Context, models.Report) error { return nil }

func (stubReporter) FlushAll(context.Context) error { return nil }

type stubRefresher struct {
	calls int
	sudo  bool
}

func (s *stubRefresher) Refresh(_ context.Context, sudo bool) error {
	s.calls++
	s.sudo = sudo
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubRefresher) {
	t.Helper()
	logger := zerolog.Nop()
	play := player.New(player.NewLogSurface(logger), stubCache{}, stubResume{}, stubReporter{}, events.NewBus(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go play.Run(ctx)

	refresher := &stubRefresher{}
	srv := server.New("127.0.0.1:0", play, refresher, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, refresher
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestStatusReportsPlayerState(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var status map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status["state"] != "off" {
		t.Fatalf("state: %q", status["state"])
	}
}

func TestRefreshEndpoint(t *testing.T) {
	ts, refresher := newTestServer(t)

	resp, err := http.Post(ts.URL+"/refresh?sudo=true", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if refresher.calls != 1 || !refresher.sudo {
		t.Fatalf("refresher: calls=%d sudo=%v", refresher.calls, refresher.sudo)
	}
}

func TestMetricsExposed(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}
