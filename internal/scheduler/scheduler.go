// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler is the fixed-cadence tick loop (C9): on every tick it
// scans for workflows whose next_run_at has arrived, enqueues one dispatch
// message per due workflow, and advances next_run_at past now. It never
// runs a workflow itself — that is the worker's and runner's job.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowforge/workflows/internal/cron"
	"github.com/flowforge/workflows/internal/platformlog"
	"github.com/flowforge/workflows/internal/queue"
	"github.com/flowforge/workflows/internal/store"
)

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Config tunes the scheduler's tick cadence and reaper frequency.
type Config struct {
	TickPeriod time.Duration

	// ReaperEveryTicks is how many ticks fall between guest-reaping passes.
	// Cadence is decided from wall-clock time, not a process-local counter
	// (see dueForReap), so ReaperEveryTicks is the divisor against
	// TickPeriod rather than a literal countdown.
	ReaperEveryTicks int
}

// Scheduler drives the tick loop. It holds no per-tick state; every Tick
// call is a fresh scan against the store.
type Scheduler struct {
	Store  store.Store
	Queue  queue.Queue
	Log    *slog.Logger
	Now    Clock
	Config Config
}

// New returns a Scheduler. log defaults to platformlog's INFO logger
// tagged "scheduler" if nil; now defaults to time.Now.
func New(st store.Store, q queue.Queue, log *slog.Logger, now Clock, cfg Config) *Scheduler {
	if log == nil {
		log = platformlog.WithComponent(platformlog.New(platformlog.Options{Level: slog.LevelInfo, Format: "json"}), "scheduler")
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{Store: st, Queue: q, Log: log, Now: now, Config: cfg}
}

// RunLoop ticks every Config.TickPeriod until ctx is canceled, running Tick
// (and, on the wall-clock-aligned cadence, Reap) on each tick.
func (s *Scheduler) RunLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.Config.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.Log.Error("scheduler tick failed", platformlog.Error(err))
			}
			if s.dueForReap() {
				if err := s.Reap(ctx); err != nil {
					s.Log.Error("guest reaper pass failed", platformlog.Error(err))
				}
			}
		}
	}
}

// Tick enqueues one dispatch message for every workflow whose next_run_at
// has arrived, then advances next_run_at past now, so a later tick does not
// enqueue the same run again. Nothing locks the due rows, so two ticks
// running concurrently can both enqueue the same workflow.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.Now()
	due, err := s.Store.GetDueWorkflows(ctx, now)
	if err != nil {
		return err
	}

	for _, workflow := range due {
		log := s.Log.With(slog.String("workflow_id", workflow.ID.String()))

		version, err := s.Store.GetActiveVersion(ctx, workflow.ID)
		if err != nil {
			log.Error("skipping due workflow with no active version", platformlog.Error(err))
			continue
		}

		execution, err := s.Store.CreateExecution(ctx, store.WorkflowExecution{
			WorkflowID: workflow.ID,
			UserID:     workflow.UserID,
			Trigger:    store.TriggerScheduled,
			Status:     store.ExecutionPending,
		})
		if err != nil {
			log.Error("failed to create scheduled execution", platformlog.Error(err))
			continue
		}

		if err := s.Queue.Send(ctx, workflow.ID, execution.ID, version.ID); err != nil {
			log.Error("failed to enqueue scheduled execution", platformlog.Error(err))
			continue
		}

		if workflow.Cron == nil {
			continue
		}
		next, err := cron.NextRun(*workflow.Cron, now)
		if err != nil {
			log.Error("failed to compute next run after enqueuing", platformlog.Error(err))
			continue
		}
		if err := s.Store.SetNextRun(ctx, workflow.ID, &next); err != nil {
			log.Error("failed to advance next_run_at", platformlog.Error(err))
		}
	}

	return nil
}

// dueForReap decides the guest-reaping cadence from wall-clock time rather
// than a process-local tick counter, so two independently restarted
// scheduler processes (or a single process that crashes and resumes) agree
// on which ticks reap without any shared state.
func (s *Scheduler) dueForReap() bool {
	if s.Config.ReaperEveryTicks <= 0 {
		return false
	}
	periodSeconds := int64(s.Config.TickPeriod / time.Second)
	if periodSeconds <= 0 {
		return false
	}
	return (s.Now().Unix() / periodSeconds) % int64(s.Config.ReaperEveryTicks) == 0
}
