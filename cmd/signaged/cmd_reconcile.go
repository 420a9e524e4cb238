/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/podolabs/signaged/internal/api"
	"github.com/podolabs/signaged/internal/cachemgr"
	"github.com/podolabs/signaged/internal/compile"
	"github.com/podolabs/signaged/internal/db"
	"github.com/podolabs/signaged/internal/models"
)

var (
	reconcileApply bool
	reconcileForce bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the video cache against the current schedule",
	Long:  "Fetch the schedules, compute the required URL set and show what would be fetched and evicted. With --apply the plan is executed.",
	RunE:  runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileApply, "apply", false, "execute the plan instead of printing it")
	reconcileCmd.Flags().BoolVar(&reconcileForce, "force", false, "ignore the same-day cache marker")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

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
	manager := cachemgr.New(store, database, cfg.DeviceID, cfg.FetchTimeout, logger)

	client, err := api.NewClient(cfg.APIBaseURL, cfg.AuthToken, cfg.DeviceID, logger)
	if err != nil {
		return fmt.Errorf("build api client: %w", err)
	}

	ctx := cmd.Context()
	device, err := client.GetDevice(ctx)
	if err != nil {
		return fmt.Errorf("fetch device: %w", err)
	}
	id := compile.Identity{CompanyID: device.CompanyID, DeviceID: device.DeviceID}

	required := make(map[string]struct{})
	fetches := []func() ([]models.Playlist, error){
		func() ([]models.Playlist, error) {
			s, err := client.GetNormalSchedule(ctx)
			if err != nil {
				return nil, err
			}
			cats, err := s.Categories(time.Local)
			if err != nil {
				return nil, err
			}
			return compile.Normal(cats, id), nil
		},
		func() ([]models.Playlist, error) {
			s, err := client.GetEmergencySchedule(ctx)
			if err != nil {
				return nil, err
			}
			cats, err := s.Categories(time.Local)
			if err != nil {
				return nil, err
			}
			return compile.Emergency(cats, id), nil
		},
		func() ([]models.Playlist, error) {
			s, err := client.GetRepeatingSchedule(ctx)
			if err != nil {
				return nil, err
			}
			cats, err := s.Categories(time.Local)
			if err != nil {
				return nil, err
			}
			return compile.Repeating(cats, id), nil
		},
	}
	for _, fetch := range fetches {
		playlists, err := fetch()
		if err != nil {
			return fmt.Errorf("fetch schedule: %w", err)
		}
		for url := range compile.RequiredURLs(playlists) {
			required[url] = struct{}{}
		}
	}

	plan, err := manager.Reconcile(ctx, required, reconcileForce)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if plan.Suppressed {
		fmt.Println("suppressed: cache already filled today (use --force to override)")
		return nil
	}

	fmt.Printf("required: %d urls, fetch: %d, evict: %d\n", len(required), len(plan.ToFetch), len(plan.ToDelete))
	for _, url := range plan.ToFetch {
		fmt.Printf("  fetch %s\n", url)
	}
	for _, url := range plan.ToDelete {
		fmt.Printf("  evict %s\n", url)
	}

	if !reconcileApply {
		return nil
	}
	if err := manager.Apply(ctx, plan); err != nil {
		return fmt.Errorf("apply plan: %w", err)
	}
	fmt.Println("plan applied")
	return nil
}
