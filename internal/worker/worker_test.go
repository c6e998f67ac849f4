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

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/workflows/internal/ledger"
	"github.com/flowforge/workflows/internal/nodes"
	"github.com/flowforge/workflows/internal/queue/memqueue"
	"github.com/flowforge/workflows/internal/runner"
	"github.com/flowforge/workflows/internal/secretstore/fakesecrets"
	"github.com/flowforge/workflows/internal/store"
	"github.com/flowforge/workflows/internal/store/memory"
)

type noopExecutor struct{}

func (noopExecutor) Run(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func newTestWorker(t *testing.T, st store.Store, q *memqueue.Queue, registry *nodes.Registry) *Worker {
	t.Helper()
	fixedNow := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	r := runner.New(st, ledger.New(st), registry, fakesecrets.New(nil), fixedNow)
	return New(q, st, r, nil, fixedNow, Config{MaxMessages: 10, VisibilityTimeout: time.Minute})
}

func seedRunnableWorkflow(t *testing.T, st store.Store, cronExpr *string) (store.User, store.Workflow, store.WorkflowVersion, store.WorkflowExecution) {
	t.Helper()
	ctx := context.Background()
	user, err := st.CreateUser(ctx, store.User{ID: uuid.New()})
	require.NoError(t, err)
	_, err = st.AtomicCredit(ctx, user.ID, 10)
	require.NoError(t, err)

	workflow, err := st.CreateWorkflow(ctx, store.Workflow{
		ID: uuid.New(), UserID: user.ID, Status: store.WorkflowPublished, Cron: cronExpr,
	})
	require.NoError(t, err)

	version, err := st.CreateVersion(ctx, store.WorkflowVersion{
		ID:         uuid.New(),
		WorkflowID: workflow.ID,
		Definition: store.Definition{
			Nodes: []store.DefinitionNode{{ID: "n1", Data: store.DefinitionData{Type: "noop"}}},
		},
		ExecutionPlan: []store.PhaseBlock{{Phase: 1, Nodes: []store.NodeRef{{ID: "n1"}}}},
	})
	require.NoError(t, err)

	execution, err := st.CreateExecution(ctx, store.WorkflowExecution{
		ID: uuid.New(), WorkflowID: workflow.ID, UserID: user.ID, Status: store.ExecutionPending,
	})
	require.NoError(t, err)

	return user, workflow, version, execution
}

func TestWorker_ProcessesMessageToCompletion(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	registry := nodes.NewRegistry()
	registry.Register("noop", nodes.TypeInfo{CreditCost: 1, CanStart: true, New: func() nodes.Executor { return noopExecutor{} }})
	q := memqueue.New()

	_, workflow, version, execution := seedRunnableWorkflow(t, st, nil)
	require.NoError(t, q.Send(ctx, workflow.ID, execution.ID, version.ID))

	w := newTestWorker(t, st, q, registry)
	n, err := w.ReceiveAndProcess(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionCompleted, got.Status)

	gotWorkflow, err := st.GetWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, gotWorkflow.LastRunStatus)
	assert.Equal(t, store.ExecutionCompleted, *gotWorkflow.LastRunStatus)

	remaining, err := q.Receive(ctx, 10, time.Minute, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining, "a successfully processed message must be deleted")
}

// observingExecutor records the workflow's last_run_status as observed by
// another reader while the node itself is mid-run, so the test can assert
// spec.md §4.8 step 4 happened before step 5 (RunWorkflow), not folded into
// step 7's post-run patch.
type observingExecutor struct {
	st         store.Store
	workflowID uuid.UUID
	observed   *store.ExecutionStatus
}

func (o observingExecutor) Run(ctx context.Context, _ map[string]any) (map[string]any, error) {
	wf, err := o.st.GetWorkflow(ctx, o.workflowID)
	if err != nil {
		return nil, err
	}
	*o.observed = ""
	if wf.LastRunStatus != nil {
		*o.observed = *wf.LastRunStatus
	}
	return map[string]any{}, nil
}

func TestWorker_RecordsRunningBeforeInvokingRunner(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	q := memqueue.New()

	_, workflow, version, execution := seedRunnableWorkflow(t, st, nil)
	require.NoError(t, q.Send(ctx, workflow.ID, execution.ID, version.ID))

	var observed store.ExecutionStatus
	registry := nodes.NewRegistry()
	registry.Register("noop", nodes.TypeInfo{CreditCost: 1, CanStart: true, New: func() nodes.Executor {
		return observingExecutor{st: st, workflowID: workflow.ID, observed: &observed}
	}})

	w := newTestWorker(t, st, q, registry)
	_, err := w.ReceiveAndProcess(ctx)
	require.NoError(t, err)

	assert.Equal(t, store.ExecutionRunning, observed, "last_run_status must already be RUNNING while the node executes")

	gotWorkflow, err := st.GetWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, gotWorkflow.LastRunStatus)
	assert.Equal(t, store.ExecutionCompleted, *gotWorkflow.LastRunStatus, "the post-run patch still advances last_run_status to the terminal status")
}

func TestWorker_AdvancesNextRunForScheduledWorkflow(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	registry := nodes.NewRegistry()
	registry.Register("noop", nodes.TypeInfo{CreditCost: 1, CanStart: true, New: func() nodes.Executor { return noopExecutor{} }})
	q := memqueue.New()

	cronExpr := "*/5 * * * *"
	_, workflow, version, execution := seedRunnableWorkflow(t, st, &cronExpr)
	require.NoError(t, q.Send(ctx, workflow.ID, execution.ID, version.ID))

	w := newTestWorker(t, st, q, registry)
	_, err := w.ReceiveAndProcess(ctx)
	require.NoError(t, err)

	gotWorkflow, err := st.GetWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, gotWorkflow.NextRunAt)
	assert.True(t, gotWorkflow.NextRunAt.After(time.Unix(1700000000, 0).UTC()))
}

func TestWorker_PoisonMessageIsDiscarded(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	registry := nodes.NewRegistry()
	q := memqueue.New()

	require.NoError(t, q.Send(ctx, uuid.Nil, uuid.New(), uuid.New()))

	w := newTestWorker(t, st, q, registry)
	n, err := w.ReceiveAndProcess(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remaining, err := q.Receive(ctx, 10, time.Minute, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining, "a malformed message must be discarded, not redelivered")
}

func TestWorker_UnknownExecutionIsDiscardedAsPoison(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	registry := nodes.NewRegistry()
	q := memqueue.New()

	user, err := st.CreateUser(ctx, store.User{ID: uuid.New()})
	require.NoError(t, err)
	workflow, err := st.CreateWorkflow(ctx, store.Workflow{ID: uuid.New(), UserID: user.ID})
	require.NoError(t, err)
	version, err := st.CreateVersion(ctx, store.WorkflowVersion{ID: uuid.New(), WorkflowID: workflow.ID})
	require.NoError(t, err)

	require.NoError(t, q.Send(ctx, workflow.ID, uuid.New(), version.ID))

	w := newTestWorker(t, st, q, registry)
	_, err = w.ReceiveAndProcess(ctx)
	require.NoError(t, err)

	remaining, err := q.Receive(ctx, 10, time.Minute, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestWorker_RunLoopExitsAfterCompletionWhenQueueIsEmpty(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	registry := nodes.NewRegistry()
	q := memqueue.New()

	w := newTestWorker(t, st, q, registry)
	w.Config.ExitAfterCompletion = true

	err := w.RunLoop(ctx)
	require.NoError(t, err)
}
