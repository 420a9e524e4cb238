/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package jobs manages absolute-time and recurring playback triggers.
package jobs

import (
	"time"
)

// Purpose classifies a trigger so boundary jobs can be replaced rather
// than duplicated when their fire instants coincide.
type Purpose string

const (
	PurposeDayOn         Purpose = "day_on"
	PurposeDayOff        Purpose = "day_off"
	PurposeCategoryStart Purpose = "category_start"
	PurposeCategoryEnd   Purpose = "category_end"
	PurposeReturn        Purpose = "return_previous"
	PurposePreroll       Purpose = "ad_preroll"
	PurposeWatchdog      Purpose = "watchdog"
	PurposeCallTime      Purpose = "call_time"
	PurposeReportFlush   Purpose = "report_flush"
)

// boundary purposes participate in the equal-instant replacement rule.
func (p Purpose) boundary() bool {
	switch p {
	case PurposeDayOn, PurposeDayOff, PurposeCategoryStart, PurposeCategoryEnd, PurposeReturn:
		return true
	}
	return false
}

// Action is the closure bound to a trigger.
type Action func()

// Job is a scheduled trigger with a cancel handle. One-shot jobs
// self-terminate after firing; recurring jobs persist until cancelled.
type Job struct {
	id       uint64
	purpose  Purpose
	nextFire time.Time
	cronExpr string
	fn       Action

	cancelled bool
}

// Purpose returns the trigger's classification.
func (j *Job) Purpose() Purpose { return j.purpose }

// Recurring reports whether the job follows a cron rule.
func (j *Job) Recurring() bool { return j.cronExpr != "" }

// Info is a read-only snapshot of a scheduled job.
type Info struct {
	Purpose   Purpose   `json:"purpose"`
	NextFire  time.Time `json:"next_fire"`
	Recurring bool      `json:"recurring"`
}
