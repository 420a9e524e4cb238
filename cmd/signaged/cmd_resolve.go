/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/podolabs/signaged/internal/adtag"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <tag-url>",
	Short: "Resolve an ad tag to a concrete media URL",
	Long:  "Fetch and parse an ad tag the way the daemon does, printing the outcome. Useful for checking a tag endpoint before it goes into a schedule.",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	resolver := adtag.New(cfg.ResolveTimeout, logger)
	resolution, err := resolver.Resolve(ctx, args[0])
	if err != nil {
		return fmt.Errorf("resolve tag: %w", err)
	}

	if !resolution.Success {
		fmt.Println("resolution exhausted: no usable media")
		return nil
	}
	fmt.Printf("video url:  %s\n", resolution.VideoURL)
	fmt.Printf("report url: %s\n", resolution.ReportURL)
	return nil
}
