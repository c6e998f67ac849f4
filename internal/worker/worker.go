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

// Package worker is the dispatch-queue consumer (C8): it receives
// Messages, loads the workflow/execution/version they reference, hands them
// to the runner, and acknowledges only once every side effect of that run
// — the terminal phase rows, the execution's terminal status, and the
// workflow's denormalized last-run/next-run fields — has been persisted.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/workflows/internal/cron"
	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/platformlog"
	"github.com/flowforge/workflows/internal/queue"
	"github.com/flowforge/workflows/internal/runner"
	"github.com/flowforge/workflows/internal/store"
)

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Config tunes one Worker's receive loop.
type Config struct {
	MaxMessages         int
	VisibilityTimeout   time.Duration
	PollWaitTime        time.Duration // 0 for one-shot receive, >0 for long-poll
	ExitAfterCompletion bool          // true: RunLoop drains once then returns
}

// Worker consumes the dispatch queue and drives the runner. It holds no
// per-message state; every Message is handled independently.
type Worker struct {
	Queue  queue.Queue
	Store  store.Store
	Runner *runner.Runner
	Log    *slog.Logger
	Now    Clock
	Config Config
}

// New returns a Worker. log defaults to platformlog's INFO logger tagged
// "worker" if nil; now defaults to time.Now.
func New(q queue.Queue, st store.Store, r *runner.Runner, log *slog.Logger, now Clock, cfg Config) *Worker {
	if log == nil {
		log = platformlog.WithComponent(platformlog.New(platformlog.Options{Level: slog.LevelInfo, Format: "json"}), "worker")
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Worker{Queue: q, Store: st, Runner: r, Log: log, Now: now, Config: cfg}
}

// RunLoop drives the receive loop until ctx is canceled, or — when
// Config.ExitAfterCompletion is set — until one receive returns no
// messages. This is the same two-mode shape (long-lived daemon vs.
// drain-and-exit invocation) the platform's external interface contract
// exposes through POLLING_MODE / EXIT_AFTER_COMPLETION.
func (w *Worker) RunLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := w.ReceiveAndProcess(ctx)
		if err != nil {
			return err
		}
		if w.Config.ExitAfterCompletion && n == 0 {
			return nil
		}
	}
}

// ReceiveAndProcess receives up to Config.MaxMessages messages and
// processes each one, returning how many were received.
func (w *Worker) ReceiveAndProcess(ctx context.Context) (int, error) {
	messages, err := w.Queue.Receive(ctx, w.Config.MaxMessages, w.Config.VisibilityTimeout, w.Config.PollWaitTime)
	if err != nil {
		return 0, fmt.Errorf("worker: receive: %w", err)
	}
	for _, msg := range messages {
		w.process(ctx, msg)
	}
	return len(messages), nil
}

// process handles one Message end to end. It never returns an error to the
// caller: every failure is either a poison message (deleted and logged) or
// a transient condition (left for the queue to redeliver once the
// visibility timeout elapses).
func (w *Worker) process(ctx context.Context, msg queue.Message) {
	log := w.Log.With(
		slog.String("workflow_id", msg.WorkflowID.String()),
		slog.String("execution_id", msg.ExecutionID.String()),
		slog.Int("receive_count", msg.ReceiveCount),
	)

	if msg.WorkflowID == uuid.Nil || msg.ExecutionID == uuid.Nil || msg.VersionID == uuid.Nil {
		log.Error("poison message: missing required identifier, discarding", platformlog.Error(&domainerrors.PoisonMessageError{Cause: fmt.Errorf("malformed dispatch message")}))
		w.delete(ctx, msg, log)
		return
	}

	workflow, err := w.Store.GetWorkflow(ctx, msg.WorkflowID)
	if isPoison(err) {
		log.Error("poison message: workflow not found, discarding", platformlog.Error(err))
		w.delete(ctx, msg, log)
		return
	} else if err != nil {
		log.Warn("transient error loading workflow, leaving for redelivery", platformlog.Error(err))
		return
	}

	execution, err := w.Store.GetExecution(ctx, msg.ExecutionID)
	if isPoison(err) {
		log.Error("poison message: execution not found, discarding", platformlog.Error(err))
		w.delete(ctx, msg, log)
		return
	} else if err != nil {
		log.Warn("transient error loading execution, leaving for redelivery", platformlog.Error(err))
		return
	}

	version, err := w.Store.GetVersion(ctx, msg.VersionID)
	if isPoison(err) {
		log.Error("poison message: version not found, discarding", platformlog.Error(err))
		w.delete(ctx, msg, log)
		return
	} else if err != nil {
		log.Warn("transient error loading version, leaving for redelivery", platformlog.Error(err))
		return
	}

	if err := w.Store.RecordLastRun(ctx, workflow.ID, execution.ID, store.ExecutionRunning, w.Now()); err != nil {
		log.Warn("failed to record pre-run last_run_status, leaving for redelivery", platformlog.Error(err))
		return
	}

	status, runErr := w.Runner.RunWorkflow(ctx, workflow, execution, version)
	if runErr != nil {
		var transient *domainerrors.TransientInfraError
		if errors.As(runErr, &transient) {
			log.Warn("transient infra error during run, leaving for redelivery", platformlog.Error(runErr))
			return
		}
		log.Error("workflow execution failed", platformlog.Error(runErr))
	}

	completedAt := w.Now()
	if err := w.Store.RecordLastRun(ctx, workflow.ID, execution.ID, status, completedAt); err != nil {
		log.Error("failed to record last run, leaving for redelivery", platformlog.Error(err))
		return
	}

	if err := w.advanceSchedule(ctx, workflow, completedAt); err != nil {
		log.Error("failed to advance next_run_at", platformlog.Error(err))
		return
	}

	w.delete(ctx, msg, log)
}

// advanceSchedule recomputes and persists a cron-scheduled workflow's next
// run after one of its executions reaches a terminal state. A manually or
// API-triggered execution of a scheduled workflow still advances the
// schedule relative to completedAt, the same "next run is always relative
// to the last attempt" rule the scheduler (C9) assumes when it scans for
// due workflows.
func (w *Worker) advanceSchedule(ctx context.Context, workflow store.Workflow, completedAt time.Time) error {
	if workflow.Status != store.WorkflowPublished || workflow.Cron == nil {
		return nil
	}
	next, err := cron.NextRun(*workflow.Cron, completedAt)
	if err != nil {
		return fmt.Errorf("worker: compute next run: %w", err)
	}
	return w.Store.SetNextRun(ctx, workflow.ID, &next)
}

func (w *Worker) delete(ctx context.Context, msg queue.Message, log *slog.Logger) {
	if err := w.Queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		log.Error("failed to delete processed message", platformlog.Error(err))
	}
}

func isPoison(err error) bool {
	var notFound *domainerrors.NotFoundError
	return errors.As(err, &notFound)
}
