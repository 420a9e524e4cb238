/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package jobs

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/podolabs/signaged/internal/telemetry"
	"github.com/rs/zerolog"
)

// ErrPastInstant marks a one-shot trigger whose instant already passed.
// Callers treat this as a soft failure, not an error condition.
var ErrPastInstant = errors.New("trigger instant is in the past")

// The scheduler sleeps at most this long so wall clock adjustments are
// picked up even with a distant next trigger.
const maxSleepCap = 60 * time.Second

// Scheduler maintains a min-heap of triggers and fires them in instant
// order from a single goroutine.
type Scheduler struct {
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	heap   jobHeap
	nextID uint64
	wake   chan struct{}
}

// New creates a scheduler. Run must be called for triggers to fire.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "jobs").Logger(),
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// ScheduleAt installs a one-shot trigger. Boundary purposes replace an
// existing job of the same purpose with an equal next-fire instant rather
// than duplicating it.
func (s *Scheduler) ScheduleAt(at time.Time, purpose Purpose, fn Action) (*Job, error) {
	if !at.After(s.now()) {
		return nil, ErrPastInstant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if purpose.boundary() {
		for _, existing := range s.heap {
			if existing.cancelled || existing.purpose != purpose {
				continue
			}
			if existing.nextFire.Equal(at) {
				existing.cancelled = true
				telemetry.JobsReplacedTotal.WithLabelValues(string(purpose)).Inc()
				s.logger.Debug().
					Str("purpose", string(purpose)).
					Time("fire_at", at).
					Msg("replacing coinciding boundary job")
			}
		}
	}

	job := s.push(&Job{purpose: purpose, nextFire: at, fn: fn})
	s.logger.Debug().Str("purpose", string(purpose)).Time("fire_at", at).Msg("trigger installed")
	return job, nil
}

// ScheduleCron installs a recurring trigger following a six-field cron
// expression. Recurring jobs persist until cancelled.
func (s *Scheduler) ScheduleCron(expr string, purpose Purpose, fn Action) (*Job, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression %q", expr)
	}
	next, err := gronx.NextTickAfter(expr, s.now(), false)
	if err != nil {
		return nil, fmt.Errorf("compute next occurrence: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.push(&Job{purpose: purpose, nextFire: next, cronExpr: expr, fn: fn})
	s.logger.Debug().Str("purpose", string(purpose)).Str("cron", expr).Time("fire_at", next).Msg("recurring trigger installed")
	return job, nil
}

// Cancel stops future firings. Cancelling twice, or cancelling a job that
// already fired, is a no-op.
func (s *Scheduler) Cancel(job *Job) {
	if job == nil {
		return
	}
	s.mu.Lock()
	job.cancelled = true
	s.mu.Unlock()
	s.kick()
}

// CancelAll cancels every pending job with the given purpose.
func (s *Scheduler) CancelAll(purpose Purpose) {
	s.mu.Lock()
	for _, job := range s.heap {
		if job.purpose == purpose {
			job.cancelled = true
		}
	}
	s.mu.Unlock()
	s.kick()
}

// Pending returns snapshots of the live jobs, soonest first.
func (s *Scheduler) Pending() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]Info, 0, len(s.heap))
	for _, job := range s.heap {
		if job.cancelled {
			continue
		}
		infos = append(infos, Info{Purpose: job.purpose, NextFire: job.nextFire, Recurring: job.Recurring()})
	}
	return infos
}

// Run fires triggers until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Msg("job scheduler started")
	timer := time.NewTimer(maxSleepCap)
	defer timer.Stop()

	for {
		sleep := s.sleepUntilNext()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(sleep)

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("job scheduler stopped")
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
			s.fireDue()
		}
	}
}

// sleepUntilNext computes the sleep before the next live trigger, capped.
func (s *Scheduler) sleepUntilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discardCancelled()
	if len(s.heap) == 0 {
		return maxSleepCap
	}
	sleep := s.heap[0].nextFire.Sub(s.now())
	if sleep > maxSleepCap {
		sleep = maxSleepCap
	}
	if sleep < 0 {
		sleep = 0
	}
	return sleep
}

// fireDue pops and runs every trigger whose instant has arrived. Actions
// run on the scheduler goroutine; they are expected to hand real work to
// the player loop.
func (s *Scheduler) fireDue() {
	for {
		s.mu.Lock()
		s.discardCancelled()
		if len(s.heap) == 0 || s.heap[0].nextFire.After(s.now()) {
			s.mu.Unlock()
			return
		}
		job := heap.Pop(&s.heap).(*Job)
		firedAt := job.nextFire
		// Recurring jobs go back on the heap as the same *Job so the
		// caller's cancel handle keeps working after the first firing.
		if job.cronExpr != "" {
			if next, err := gronx.NextTickAfter(job.cronExpr, s.now(), false); err == nil {
				job.nextFire = next
				heap.Push(&s.heap, job)
			}
		}
		s.mu.Unlock()

		telemetry.JobsFiredTotal.WithLabelValues(string(job.purpose)).Inc()
		s.logger.Debug().Str("purpose", string(job.purpose)).Time("fired_at", firedAt).Msg("trigger fired")
		job.fn()
	}
}

func (s *Scheduler) discardCancelled() {
	for len(s.heap) > 0 && s.heap[0].cancelled {
		heap.Pop(&s.heap)
	}
}

func (s *Scheduler) push(job *Job) *Job {
	s.nextID++
	job.id = s.nextID
	heap.Push(&s.heap, job)
	telemetry.JobsScheduledTotal.WithLabelValues(string(job.purpose)).Inc()
	s.kick()
	return job
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
