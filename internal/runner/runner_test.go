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

package runner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/ledger"
	"github.com/flowforge/workflows/internal/nodes"
	"github.com/flowforge/workflows/internal/secretstore/fakesecrets"
	"github.com/flowforge/workflows/internal/store"
	"github.com/flowforge/workflows/internal/store/memory"
)

// echoExecutor returns its inputs unchanged, each key prefixed with "out_", and
// optionally fails when failing is true.
type echoExecutor struct {
	failing bool
}

func (e *echoExecutor) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	if e.failing {
		return nil, fmt.Errorf("boom")
	}
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out["out_"+k] = v
	}
	return out, nil
}

func newTestRunner(t *testing.T, st store.Store, registry *nodes.Registry) *Runner {
	t.Helper()
	return New(st, ledger.New(st), registry, fakesecrets.New(nil), func() time.Time { return time.Unix(1700000000, 0).UTC() })
}

func seedUser(t *testing.T, st store.Store, credits int) store.User {
	t.Helper()
	u, err := st.CreateUser(context.Background(), store.User{ID: uuid.New()})
	require.NoError(t, err)
	if credits > 0 {
		_, err := st.AtomicCredit(context.Background(), u.ID, credits)
		require.NoError(t, err)
	}
	return u
}

func singleNodeVersion(nodeType string, inputs map[string]any) store.WorkflowVersion {
	return store.WorkflowVersion{
		ID: uuid.New(),
		Definition: store.Definition{
			Nodes: []store.DefinitionNode{
				{ID: "n1", Data: store.DefinitionData{Type: nodeType, Inputs: inputs}},
			},
		},
		ExecutionPlan: []store.PhaseBlock{
			{Phase: 1, Nodes: []store.NodeRef{{ID: "n1"}}},
		},
	}
}

func TestRunWorkflow_SingleNodeSuccess(t *testing.T) {
	st := memory.New()
	registry := nodes.NewRegistry()
	registry.Register("echo", nodes.TypeInfo{CreditCost: 3, CanStart: true, New: func() nodes.Executor { return &echoExecutor{} }})

	user := seedUser(t, st, 10)
	version := singleNodeVersion("echo", map[string]any{"greeting": "hi"})
	execution, err := st.CreateExecution(context.Background(), store.WorkflowExecution{
		ID: uuid.New(), UserID: user.ID, Status: store.ExecutionPending,
	})
	require.NoError(t, err)

	r := newTestRunner(t, st, registry)
	status, err := r.RunWorkflow(context.Background(), store.Workflow{}, execution, version)
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionCompleted, status)

	balance, err := st.GetBalance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, balance.Credits)

	phase, found, err := st.GetPhase(context.Background(), execution.ID, "n1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.PhaseCompleted, phase.Status)
	assert.Equal(t, "hi", phase.Outputs["out_greeting"])
	require.NotNil(t, phase.CreditsConsumed)
	assert.Equal(t, 3, *phase.CreditsConsumed)
}

func TestRunWorkflow_InsufficientCredits(t *testing.T) {
	st := memory.New()
	registry := nodes.NewRegistry()
	registry.Register("echo", nodes.TypeInfo{CreditCost: 5, CanStart: true, New: func() nodes.Executor { return &echoExecutor{} }})

	user := seedUser(t, st, 1)
	version := singleNodeVersion("echo", map[string]any{})
	execution, err := st.CreateExecution(context.Background(), store.WorkflowExecution{
		ID: uuid.New(), UserID: user.ID, Status: store.ExecutionPending,
	})
	require.NoError(t, err)

	r := newTestRunner(t, st, registry)
	status, err := r.RunWorkflow(context.Background(), store.Workflow{}, execution, version)
	require.Error(t, err)
	assert.Equal(t, store.ExecutionFailed, status)

	var insufficient *domainerrors.InsufficientCreditsError
	assert.ErrorAs(t, err, &insufficient)

	balance, err := st.GetBalance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, balance.Credits, "balance must be untouched when the debit itself fails")

	phase, found, err := st.GetPhase(context.Background(), execution.ID, "n1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.PhaseFailed, phase.Status)
}

func TestRunWorkflow_ExecutorFailureStopsExecution(t *testing.T) {
	st := memory.New()
	registry := nodes.NewRegistry()
	registry.Register("fail", nodes.TypeInfo{CreditCost: 2, CanStart: true, New: func() nodes.Executor { return &echoExecutor{failing: true} }})

	user := seedUser(t, st, 10)
	version := singleNodeVersion("fail", map[string]any{})
	execution, err := st.CreateExecution(context.Background(), store.WorkflowExecution{
		ID: uuid.New(), UserID: user.ID, Status: store.ExecutionPending,
	})
	require.NoError(t, err)

	r := newTestRunner(t, st, registry)
	status, err := r.RunWorkflow(context.Background(), store.Workflow{}, execution, version)
	require.Error(t, err)
	assert.Equal(t, store.ExecutionFailed, status)

	var execErr *domainerrors.ExecutorError
	assert.ErrorAs(t, err, &execErr)

	// Credit was already debited before the executor ran, per spec: a
	// failed node still consumes its cost.
	balance, err := st.GetBalance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, balance.Credits)

	execRow, err := st.GetExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	require.NotNil(t, execRow.CreditsConsumed)
	assert.Equal(t, 2, *execRow.CreditsConsumed)
}

func TestRunWorkflow_EdgeWiring(t *testing.T) {
	st := memory.New()
	registry := nodes.NewRegistry()
	registry.Register("source", nodes.TypeInfo{CreditCost: 0, CanStart: true, New: func() nodes.Executor {
		return nodes.ExecutorFunc(func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return map[string]any{"value": "from-source"}, nil
		})
	}})
	registry.Register("sink", nodes.TypeInfo{CreditCost: 0, CanStart: false, New: func() nodes.Executor { return &echoExecutor{} }})

	user := seedUser(t, st, 10)
	version := store.WorkflowVersion{
		ID: uuid.New(),
		Definition: store.Definition{
			Nodes: []store.DefinitionNode{
				{ID: "n1", Data: store.DefinitionData{Type: "source"}},
				{ID: "n2", Data: store.DefinitionData{Type: "sink"}},
			},
			Edges: []store.DefinitionEdge{
				{Source: "n1", SourceHandle: "value", Target: "n2", TargetHandle: "received"},
			},
		},
		ExecutionPlan: []store.PhaseBlock{
			{Phase: 1, Nodes: []store.NodeRef{{ID: "n1"}}},
			{Phase: 2, Nodes: []store.NodeRef{{ID: "n2"}}},
		},
	}
	execution, err := st.CreateExecution(context.Background(), store.WorkflowExecution{
		ID: uuid.New(), UserID: user.ID, Status: store.ExecutionPending,
	})
	require.NoError(t, err)

	r := newTestRunner(t, st, registry)
	status, err := r.RunWorkflow(context.Background(), store.Workflow{}, execution, version)
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionCompleted, status)

	phase, found, err := st.GetPhase(context.Background(), execution.ID, "n2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "from-source", phase.Outputs["out_received"])
}

func TestRunWorkflow_TerminalExecutionIsANoOp(t *testing.T) {
	st := memory.New()
	registry := nodes.NewRegistry()
	user := seedUser(t, st, 10)
	version := singleNodeVersion("unused", nil)
	execution, err := st.CreateExecution(context.Background(), store.WorkflowExecution{
		ID: uuid.New(), UserID: user.ID, Status: store.ExecutionCompleted, CreditsConsumed: intPtr(4),
	})
	require.NoError(t, err)

	r := newTestRunner(t, st, registry)
	status, err := r.RunWorkflow(context.Background(), store.Workflow{}, execution, version)
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionCompleted, status)

	balance, err := st.GetBalance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, balance.Credits, "a terminal execution must never be re-run or re-debited")
}

func TestRunWorkflow_RunningOnEntryFailsWithoutRerunning(t *testing.T) {
	st := memory.New()
	registry := nodes.NewRegistry()
	registry.Register("echo", nodes.TypeInfo{CreditCost: 3, CanStart: true, New: func() nodes.Executor { return &echoExecutor{} }})
	user := seedUser(t, st, 10)
	version := singleNodeVersion("echo", map[string]any{})
	execution, err := st.CreateExecution(context.Background(), store.WorkflowExecution{
		ID: uuid.New(), UserID: user.ID, Status: store.ExecutionRunning,
	})
	require.NoError(t, err)

	r := newTestRunner(t, st, registry)
	status, err := r.RunWorkflow(context.Background(), store.Workflow{}, execution, version)
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionFailed, status)

	balance, err := st.GetBalance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, balance.Credits, "observing RUNNING on redelivery must never debit credits")
}

func TestAssembleInputs_UnresolvedEdge(t *testing.T) {
	edges := []store.DefinitionEdge{
		{Source: "upstream", SourceHandle: "missing", Target: "n2", TargetHandle: "in"},
	}
	_, err := assembleInputs("n2", nil, edges, map[string]map[string]any{})
	var unresolved *domainerrors.UnresolvedInputError
	assert.ErrorAs(t, err, &unresolved)
}

func TestAssembleInputs_WebPageHandleIsImplicit(t *testing.T) {
	edges := []store.DefinitionEdge{
		{Source: "launcher", SourceHandle: "Web Page", Target: "n2", TargetHandle: "Web Page"},
	}
	inputs, err := assembleInputs("n2", map[string]any{"literal": 1}, edges, map[string]map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"literal": 1}, inputs)
}

func TestResolveCredentials(t *testing.T) {
	st := memory.New()
	registry := nodes.NewRegistry()
	r := newTestRunner(t, st, registry)

	cred, err := st.CreateCredential(context.Background(), store.Credential{ID: uuid.New(), SecretRef: "api-key-ref"})
	require.NoError(t, err)
	r.Secrets = fakesecrets.New(map[string]string{"api-key-ref": "sk-plaintext"})

	resolved, err := r.resolveCredentials(context.Background(), map[string]any{
		"api_key": map[string]any{"credential_id": cred.ID.String()},
		"plain":   "unchanged",
	})
	require.NoError(t, err)
	assert.Equal(t, "sk-plaintext", resolved["api_key"])
	assert.Equal(t, "unchanged", resolved["plain"])
}
