/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/podolabs/signaged/internal/adtag"
	"github.com/podolabs/signaged/internal/api"
	"github.com/podolabs/signaged/internal/cachemgr"
	"github.com/podolabs/signaged/internal/config"
	"github.com/podolabs/signaged/internal/db"
	"github.com/podolabs/signaged/internal/events"
	"github.com/podolabs/signaged/internal/jobs"
	"github.com/podolabs/signaged/internal/logging"
	"github.com/podolabs/signaged/internal/notify"
	"github.com/podolabs/signaged/internal/player"
	"github.com/podolabs/signaged/internal/report"
	"github.com/podolabs/signaged/internal/resume"
	"github.com/podolabs/signaged/internal/server"
	"github.com/podolabs/signaged/internal/service"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "signaged",
	Short: "signaged - digital signage playback daemon",
	Long:  "signaged drives a single signage device: it compiles ad schedules into playlists, keeps the video cache warm and plays through the configured surface.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the playback daemon",
	Long:  "Fetch the device schedule, install triggers and run playback until interrupted",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logging.Setup(cfg.Environment)
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	logger.Info().Str("device_id", cfg.DeviceID).Msg("signaged starting")

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open device store: %w", err)
	}
	defer db.Close(database) //nolint:errcheck
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate device store: %w", err)
	}

	store, err := cachemgr.NewStore(afero.NewOsFs(), cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}
	cache := cachemgr.New(store, database, cfg.DeviceID, cfg.FetchTimeout, logger)

	client, err := api.NewClient(cfg.APIBaseURL, cfg.AuthToken, cfg.DeviceID, logger)
	if err != nil {
		return fmt.Errorf("build api client: %w", err)
	}

	bus := events.NewBus()
	resolver := adtag.New(cfg.ResolveTimeout, logger)
	tracker := resume.NewTracker(database, cfg.DeviceID, logger)
	aggregator := report.New(database, client, cfg.ReportFlushThreshold, logger)
	surface := player.NewLogSurface(logger)
	play := player.New(surface, cache, tracker, aggregator, bus, logger)
	scheduler := jobs.New(logger)
	svc := service.New(client, database, scheduler, play, cache, resolver, tracker, aggregator, bus, logger)

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	statusServer := server.New(addr, play, svc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go play.Run(ctx)
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()
	go svc.Run(ctx)
	go func() {
		if err := statusServer.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("status server stopped")
		}
	}()

	if err := svc.Refresh(ctx, false); err != nil {
		logger.Error().Err(err).Msg("initial refresh failed, retrying at call time")
	}

	device, err := client.GetDevice(ctx)
	if err != nil {
		return fmt.Errorf("fetch device config: %w", err)
	}

	// Schedule windows come from the server's clock; a drifted device
	// fires boundaries at the wrong time.
	if serverNow, err := client.GetDate(ctx); err != nil {
		logger.Warn().Err(err).Msg("server date check failed")
	} else if skew := time.Since(serverNow); skew > time.Minute || skew < -time.Minute {
		logger.Warn().Dur("skew", skew).Msg("device clock differs from server")
	}
	if err := svc.InstallRecurring(device); err != nil {
		return fmt.Errorf("install recurring triggers: %w", err)
	}

	startNotifier(ctx, device, database, client, svc)

	<-ctx.Done()
	logger.Info().Msg("signaged stopped")
	return nil
}

// startNotifier wires the configured live-update transport. The daily
// refresh covers updates missed while the transport is down, so failures
// here degrade rather than abort.
func startNotifier(ctx context.Context, device api.Device, database *gorm.DB, client *api.Client, svc *service.Service) {
	if cfg.Notifier == config.NotifierNone {
		return
	}

	handler := func(ctx context.Context, msg notify.Message) {
		switch msg.Event {
		case "ad":
			if err := svc.Refresh(ctx, true); err != nil {
				logger.Error().Err(err).Msg("live-update refresh failed")
			}
		default:
			logger.Debug().Str("event", msg.Event).Msg("unhandled live update")
		}
	}
	dispatcher := notify.NewDispatcher(database, client, handler, logger)

	var listener notify.Listener
	var err error
	switch cfg.Notifier {
	case config.NotifierNATS:
		listener, err = notify.NewNATSListener(cfg.NATSURL, notify.NATSSubject(device.CompanyID, device.DeviceID), logger)
	case config.NotifierRedis:
		redisCfg := notify.DefaultRedisConfig(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		listener, err = notify.NewRedisListener(redisCfg, notify.RedisChannel(device.CompanyID, device.DeviceID), logger)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("live-update transport unavailable")
		return
	}

	go func() {
		defer listener.Close() //nolint:errcheck
		if err := listener.Listen(ctx, dispatcher.Dispatch); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("live-update listener stopped")
		}
	}()
}
