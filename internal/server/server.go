/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server exposes the local status and control surface: health,
// player state, prometheus metrics and the forced-refresh hook.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/podolabs/signaged/internal/player"
	"github.com/podolabs/signaged/internal/telemetry"
	"github.com/rs/zerolog"
)

// Refresher re-runs the schedule refresh. sudo forces a cache refill even
// when the same-day marker is present.
type Refresher interface {
	Refresh(ctx context.Context, sudo bool) error
}

type Server struct {
	httpServer *http.Server
	player     *player.Player
	refresher  Refresher
	logger     zerolog.Logger
}

func New(addr string, p *player.Player, refresher Refresher, logger zerolog.Logger) *Server {
	s := &Server{
		player:    p,
		refresher: refresher,
		logger:    logger.With().Str("component", "server").Logger(),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Get("/healthz", s.handleHealthz)
	router.Get("/status", s.handleStatus)
	router.Handle("/metrics", telemetry.Handler())
	router.Post("/refresh", s.handleRefresh)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the context ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("status server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok")) //nolint:errcheck
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]string{
		"state": string(s.player.CurrentState()),
		"type":  string(s.player.ActiveType()),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status) //nolint:errcheck
}

// handleRefresh triggers a schedule refresh. `?sudo=true` bypasses the
// same-day cache marker.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sudo := r.URL.Query().Get("sudo") == "true"
	if err := s.refresher.Refresh(r.Context(), sudo); err != nil {
		s.logger.Error().Err(err).Msg("forced refresh failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
