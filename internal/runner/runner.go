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

// Package runner is the workflow runner (C7): it walks one
// WorkflowExecution's phased execution plan to completion, debiting
// credits per node, invoking the registered executor, and persisting each
// phase and its logs. Package-level functions hold no state of their own;
// every call works against a fresh Environment (C6) for exactly one
// execution.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/ledger"
	"github.com/flowforge/workflows/internal/nodes"
	"github.com/flowforge/workflows/internal/secretstore"
	"github.com/flowforge/workflows/internal/store"
)

// Clock abstracts time.Now so tests can control timestamps; defaults to
// time.Now in Run-time wiring (cmd/).
type Clock func() time.Time

// Runner executes workflow runs against a persistence gateway, ledger,
// secret resolver, and node registry. It holds no per-execution state;
// RunWorkflow constructs a fresh Environment for each call.
type Runner struct {
	Store    store.Store
	Ledger   *ledger.Ledger
	Registry *nodes.Registry
	Secrets  secretstore.Store // optional; nil disables credential resolution
	Now      Clock
}

// New returns a Runner. now defaults to time.Now if nil.
func New(st store.Store, lg *ledger.Ledger, registry *nodes.Registry, secrets secretstore.Store, now Clock) *Runner {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Runner{Store: st, Ledger: lg, Registry: registry, Secrets: secrets, Now: now}
}

// RunWorkflow executes execution against workflow's pinned version and
// returns its terminal status, implementing spec.md §4.7's lifecycle
// exactly, including idempotence on redelivery and the cleanup-on-every-
// exit-path guarantee.
func (r *Runner) RunWorkflow(ctx context.Context, workflow store.Workflow, execution store.WorkflowExecution, version store.WorkflowVersion) (store.ExecutionStatus, error) {
	// Idempotence on redelivery (spec.md §4.7, last paragraph): a terminal
	// status means this message has already been fully processed.
	if execution.Status.IsTerminal() {
		return execution.Status, nil
	}
	if execution.Status == store.ExecutionRunning {
		// A crash between RUNNING and a terminal status: treat as failed
		// without re-running or re-debiting any node.
		r.logSyntheticWarning(ctx, execution, "redelivered execution observed already RUNNING; marking FAILED without re-execution")
		now := r.Now()
		_ = r.Store.UpdateExecutionStatus(ctx, execution.ID, store.ExecutionFailed, now)
		return store.ExecutionFailed, nil
	}

	env := NewEnvironment()
	defer func() { _ = env.Cleanup(ctx) }()

	now := r.Now()
	if err := r.Store.UpdateExecutionStatus(ctx, execution.ID, store.ExecutionRunning, now); err != nil {
		return "", fmt.Errorf("runner: mark running: %w", err)
	}

	totalCredits := 0
	status := store.ExecutionCompleted
	var runErr error

	for _, block := range version.ExecutionPlan {
		for _, ref := range block.Nodes {
			node, ok := findNode(version.Definition.Nodes, ref.ID)
			if !ok {
				runErr = &domainerrors.NodeTypeUnknownError{NodeType: ref.ID}
				status = store.ExecutionFailed
				break
			}

			consumed, nodeErr := r.runNode(ctx, execution, node, version.Definition.Edges, env)
			totalCredits += consumed
			if nodeErr != nil {
				runErr = nodeErr
				status = store.ExecutionFailed
				break
			}
		}
		if runErr != nil {
			break
		}
	}

	completedAt := r.Now()
	if err := r.Store.SetExecutionCreditsConsumed(ctx, execution.ID, totalCredits); err != nil && runErr == nil {
		runErr = fmt.Errorf("runner: set credits consumed: %w", err)
		status = store.ExecutionFailed
	}
	if err := r.Store.UpdateExecutionStatus(ctx, execution.ID, status, completedAt); err != nil && runErr == nil {
		return "", fmt.Errorf("runner: mark terminal status: %w", err)
	}

	return status, runErr
}

// runNode assembles one node's inputs, debits its credit cost, invokes its
// executor, and persists the resulting phase. It returns the credits
// actually debited (so the caller can accumulate the execution total even
// on failure, per spec.md §4.7 step 3h) and any error that should fail the
// execution.
func (r *Runner) runNode(ctx context.Context, execution store.WorkflowExecution, node store.DefinitionNode, edges []store.DefinitionEdge, env *Environment) (int, error) {
	ps := env.BeginPhase(node.ID, node)

	inputs, err := assembleInputs(node.ID, node.Data.Inputs, edges, env.resources)
	if err != nil {
		return 0, r.failPhase(ctx, execution, ps, node, inputs, 0, err)
	}

	resolved, err := r.resolveCredentials(ctx, inputs)
	if err != nil {
		return 0, r.failPhase(ctx, execution, ps, node, inputs, 0, err)
	}
	if page := env.Page(); page != nil {
		resolved[pageInputKey] = page
	}

	info, err := r.Registry.Lookup(node.Data.Type)
	if err != nil {
		return 0, r.failPhase(ctx, execution, ps, node, inputs, 0, err)
	}

	startedAt := r.Now()
	ps.Status = store.PhaseRunning
	ps.StartedAt = &startedAt
	if _, err := r.Store.UpsertPhase(ctx, store.ExecutionPhase{
		WorkflowExecutionID: execution.ID,
		UserID:              execution.UserID,
		Name:                node.Data.Type,
		Status:              store.PhaseRunning,
		StartedAt:           &startedAt,
		Node:                node,
		Inputs:              inputs,
	}); err != nil {
		return 0, fmt.Errorf("runner: upsert running phase: %w", err)
	}

	if err := r.Ledger.Debit(ctx, execution.UserID, info.CreditCost); err != nil {
		return 0, r.failPhase(ctx, execution, ps, node, inputs, 0, err)
	}

	executor := info.New()
	outputs, err := executor.Run(ctx, resolved)
	if err != nil {
		return info.CreditCost, r.failPhase(ctx, execution, ps, node, inputs, info.CreditCost, &domainerrors.ExecutorError{NodeType: node.Data.Type, Cause: err})
	}

	persistedOutputs := env.SetOutputs(node.ID, outputs)
	completedAt := r.Now()
	ps.Status = store.PhaseCompleted
	ps.CompletedAt = &completedAt
	if _, err := r.Store.UpsertPhase(ctx, store.ExecutionPhase{
		WorkflowExecutionID: execution.ID,
		UserID:              execution.UserID,
		Name:                node.Data.Type,
		Status:              store.PhaseCompleted,
		StartedAt:           &startedAt,
		CompletedAt:         &completedAt,
		Node:                node,
		Inputs:              inputs,
		Outputs:             persistedOutputs,
		CreditsConsumed:     intPtr(info.CreditCost),
	}); err != nil {
		return info.CreditCost, fmt.Errorf("runner: upsert completed phase: %w", err)
	}
	r.flushLogs(ctx, execution, ps)

	return info.CreditCost, nil
}

// failPhase persists a FAILED phase (with whatever credits were already
// debited), flushes its buffered logs, and returns err unchanged so the
// caller can propagate it.
func (r *Runner) failPhase(ctx context.Context, execution store.WorkflowExecution, ps *PhaseScratch, node store.DefinitionNode, inputs map[string]any, creditsConsumed int, err error) error {
	completedAt := r.Now()
	ps.Status = store.PhaseFailed
	ps.CompletedAt = &completedAt

	phase := store.ExecutionPhase{
		WorkflowExecutionID: execution.ID,
		UserID:              execution.UserID,
		Name:                node.Data.Type,
		Status:              store.PhaseFailed,
		StartedAt:           ps.StartedAt,
		CompletedAt:         &completedAt,
		Node:                node,
		Inputs:              inputs,
		CreditsConsumed:     intPtr(creditsConsumed),
	}
	if _, upsertErr := r.Store.UpsertPhase(ctx, phase); upsertErr != nil {
		return fmt.Errorf("runner: upsert failed phase: %w (original error: %v)", upsertErr, err)
	}
	r.flushLogs(ctx, execution, ps)
	return err
}

func (r *Runner) flushLogs(ctx context.Context, execution store.WorkflowExecution, ps *PhaseScratch) {
	for _, l := range ps.Logs {
		_ = r.Store.AppendLog(ctx, l)
	}
}

// logSyntheticWarning records a WARNING log against a phase-less synthetic
// record when a redelivered execution is observed already RUNNING. There is
// no real node to attach it to, so it is appended directly rather than
// buffered on an Environment.
func (r *Runner) logSyntheticWarning(ctx context.Context, execution store.WorkflowExecution, message string) {
	_ = r.Store.AppendLog(ctx, store.ExecutionLog{
		ID:               uuid.New(),
		ExecutionPhaseID: uuid.Nil,
		LogLevel:         store.LogWarning,
		Message:          message,
		Timestamp:        r.Now(),
	})
}

// resolveCredentials replaces any input shaped as
// map[string]any{"credential_id": "<uuid>"} with the plaintext secret it
// references, resolved through the Credential store and secretstore.Store.
// Inputs that aren't shaped this way pass through unchanged.
func (r *Runner) resolveCredentials(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(inputs))
	for k, v := range inputs {
		ref, ok := v.(map[string]any)
		if !ok {
			resolved[k] = v
			continue
		}
		rawID, ok := ref["credential_id"].(string)
		if !ok {
			resolved[k] = v
			continue
		}
		if r.Secrets == nil {
			return nil, &domainerrors.ValidationError{Field: k, Message: "credential reference present but no secret store is configured"}
		}
		credID, err := uuid.Parse(rawID)
		if err != nil {
			return nil, &domainerrors.ValidationError{Field: k, Message: fmt.Sprintf("invalid credential id %q", rawID)}
		}
		cred, err := r.Store.GetCredential(ctx, credID)
		if err != nil {
			return nil, fmt.Errorf("runner: resolve credential input %q: %w", k, err)
		}
		plaintext, err := r.Secrets.Resolve(ctx, cred.SecretRef)
		if err != nil {
			return nil, fmt.Errorf("runner: resolve secret for input %q: %w", k, err)
		}
		resolved[k] = plaintext
	}
	return resolved, nil
}

// assembleInputs is the pure input-wiring function from spec.md §4.7: start
// from literalInputs, then for every edge targeting nodeID, resolve
// resources[edge.Source][edge.SourceHandle] and set
// inputs[edge.TargetHandle]. The "Web Page" handle never populates an input
// value — the dependency is satisfied implicitly by the Environment.
func assembleInputs(nodeID string, literalInputs map[string]any, edges []store.DefinitionEdge, resources map[string]map[string]any) (map[string]any, error) {
	inputs := make(map[string]any, len(literalInputs))
	for k, v := range literalInputs {
		inputs[k] = v
	}

	for _, edge := range edges {
		if edge.Target != nodeID {
			continue
		}
		if edge.TargetHandle == "Web Page" {
			continue
		}
		sourceOutputs, ok := resources[edge.Source]
		if !ok {
			return inputs, &domainerrors.UnresolvedInputError{NodeID: nodeID, SourceNodeID: edge.Source, Handle: edge.SourceHandle}
		}
		value, ok := sourceOutputs[edge.SourceHandle]
		if !ok {
			return inputs, &domainerrors.UnresolvedInputError{NodeID: nodeID, SourceNodeID: edge.Source, Handle: edge.SourceHandle}
		}
		inputs[edge.TargetHandle] = value
	}
	return inputs, nil
}

func findNode(defNodes []store.DefinitionNode, id string) (store.DefinitionNode, bool) {
	for _, n := range defNodes {
		if n.ID == id {
			return n, true
		}
	}
	return store.DefinitionNode{}, false
}

func intPtr(n int) *int { return &n }
