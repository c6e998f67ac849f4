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
	"time"

	"github.com/flowforge/workflows/internal/browserdriver"
	"github.com/flowforge/workflows/internal/store"
)

// PhaseScratch is the in-memory record of one node's execution, kept on
// Environment until the runner persists it. logs accumulate here during
// executor.Run and are flushed to the LogStore only once the phase reaches
// a terminal state, matching the executor contract's "append in-memory
// logs to the current Phase" rule (spec.md §4.5).
type PhaseScratch struct {
	Node        store.DefinitionNode
	Status      store.PhaseStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Logs        []store.ExecutionLog
}

// Environment is the per-execution, process-local scratchpad the runner
// hands to every node invocation. It is never shared across executions.
type Environment struct {
	// phases holds one entry per node that has begun execution, keyed by
	// node id.
	phases map[string]*PhaseScratch

	// resources holds each node's resolved outputs, keyed by node id then
	// output handle, addressable by downstream edges.
	resources map[string]map[string]any

	// page is the single current browser tab, lazily set by a launch_*
	// node's output and consumed by every subsequent browser-family node.
	// The single-page assumption from spec.md §4.6: at most one page is
	// ever "current" within one Environment.
	page browserdriver.Page
}

// NewEnvironment returns an empty Environment ready for one execution.
func NewEnvironment() *Environment {
	return &Environment{
		phases:    make(map[string]*PhaseScratch),
		resources: make(map[string]map[string]any),
	}
}

// BeginPhase records that nodeID has started and returns its scratch
// record.
func (e *Environment) BeginPhase(nodeID string, node store.DefinitionNode) *PhaseScratch {
	ps := &PhaseScratch{Node: node, Status: store.PhasePending}
	e.phases[nodeID] = ps
	return ps
}

// Log appends a buffered log line to nodeID's phase. It is a no-op if the
// phase hasn't started, which should never happen in practice since Log is
// only ever called between BeginPhase and the phase's terminal persist.
func (e *Environment) Log(nodeID string, l store.ExecutionLog) {
	if ps, ok := e.phases[nodeID]; ok {
		ps.Logs = append(ps.Logs, l)
	}
}

// SetOutputs records nodeID's resolved outputs for downstream edges to
// read, and pulls the reserved page-output key (if present) onto the
// Environment's current page instead of leaving it in resources, so it
// never gets serialized into a persisted phase's outputs JSON.
func (e *Environment) SetOutputs(nodeID string, outputs map[string]any) map[string]any {
	persisted := make(map[string]any, len(outputs))
	for k, v := range outputs {
		persisted[k] = v
	}
	if page, ok := persisted[pageOutputKey]; ok {
		if p, ok := page.(browserdriver.Page); ok {
			e.page = p
		}
		delete(persisted, pageOutputKey)
		persisted[pageOutputKey] = pagePlaceholder
	}
	e.resources[nodeID] = persisted
	return persisted
}

// Output looks up a specific upstream node's output handle.
func (e *Environment) Output(sourceNodeID, handle string) (any, bool) {
	outs, ok := e.resources[sourceNodeID]
	if !ok {
		return nil, false
	}
	v, ok := outs[handle]
	return v, ok
}

// Page returns the Environment's current browser page, or nil if no launch
// node has run yet.
func (e *Environment) Page() browserdriver.Page {
	return e.page
}

// pagePlaceholder replaces the live browserdriver.Page handle in an
// Environment's resources map before a phase's outputs are persisted —
// a Page is not JSON-serializable and must never reach the store layer.
const pagePlaceholder = "<web page>"

// pageInputKey/pageOutputKey mirror nodes.PageInputKey/PageOutputKey. They
// are redeclared here rather than imported to avoid internal/runner
// depending on internal/nodes for two string constants; the values are
// part of the same reserved-key convention and must stay in sync.
const (
	pageInputKey  = "__page"
	pageOutputKey = "__page"
)

// Cleanup closes the current page (if any) and clears resources, in that
// order, and must run on every exit path regardless of success, failure, or
// cancellation (spec.md §4.6). It tolerates a nil page; a page close error
// does not stop the rest of cleanup, and is returned once resources have
// been cleared.
func (e *Environment) Cleanup(ctx context.Context) error {
	var closeErr error
	if e.page != nil {
		closeErr = e.page.Close(ctx)
		e.page = nil
	}
	e.resources = make(map[string]map[string]any)
	return closeErr
}
