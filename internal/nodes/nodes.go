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

// Package nodes defines the pluggable node-type registry (C5) the runner
// dispatches phases through. Each node family (browser, html, llm, jsonx,
// branch, webhook, email, sms, delay) registers its executors here instead
// of the runner knowing about concrete node types directly.
package nodes

import (
	"context"
	"fmt"

	domainerrors "github.com/flowforge/workflows/internal/errors"
)

// PageInputKey is the reserved input key the runner uses to pass the
// Environment's current browser page to an executor. The "Web Page" handle
// named in an edge's targetHandle never populates a regular input (spec.md
// §4.7) — the dependency is satisfied implicitly by the Environment, and
// the runner forwards it under this key on every invocation so browser
// node executors don't need a separate Environment-aware interface.
const PageInputKey = "__page"

// PageOutputKey is the reserved output key a launch_* executor uses to
// hand the newly opened browserdriver.Page back to the runner, which moves
// it onto Environment.Page and replaces it with a JSON-safe placeholder
// before the phase's outputs are persisted.
const PageOutputKey = "__page"

// Executor runs a single node given its resolved inputs (literal values
// merged with values wired in from upstream node outputs) and returns its
// outputs, keyed by output handle name.
type Executor interface {
	// Run executes the node. It must not retain inputs or its returned map
	// beyond the call — the runner may reuse the backing arrays.
	Run(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

func (f ExecutorFunc) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return f(ctx, inputs)
}

// TypeInfo describes a registered node type: its credit cost and whether it
// is allowed to be a phase-1 (no-upstream-dependency) node.
type TypeInfo struct {
	// CreditCost is charged to the owning user's balance before the node
	// runs. Every node type registers here, including the cheapest
	// one-credit ones (branch, delay, the jsonx read/write/merge nodes), so
	// the registry is the single source of truth for every valid node type
	// string.
	CreditCost int

	// CanStart reports whether a node of this type may appear with no
	// incoming edges (phase 1 of an execution plan).
	CanStart bool

	// New constructs a fresh Executor for one node invocation. Executors may
	// hold per-invocation state (e.g. a shared browser page) so New, not a
	// shared singleton, is the extension point.
	New func() Executor
}

// Registry maps node type names to their TypeInfo. The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	types map[string]TypeInfo
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]TypeInfo)}
}

// Register adds nodeType to the registry. It panics on a duplicate
// registration, the same fail-fast-at-init-time discipline the teacher's
// tool registry uses, since a duplicate node type is always a programming
// error rather than a runtime condition to recover from.
func (r *Registry) Register(nodeType string, info TypeInfo) {
	if _, exists := r.types[nodeType]; exists {
		panic(fmt.Sprintf("nodes: duplicate registration for type %q", nodeType))
	}
	r.types[nodeType] = info
}

// Lookup returns the TypeInfo for nodeType, or
// *errors.NodeTypeUnknownError if it isn't registered.
func (r *Registry) Lookup(nodeType string) (TypeInfo, error) {
	info, ok := r.types[nodeType]
	if !ok {
		return TypeInfo{}, &domainerrors.NodeTypeUnknownError{NodeType: nodeType}
	}
	return info, nil
}

// New constructs a fresh Executor for nodeType.
func (r *Registry) New(nodeType string) (Executor, error) {
	info, err := r.Lookup(nodeType)
	if err != nil {
		return nil, err
	}
	return info.New(), nil
}

// Types returns every registered node type name.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	return out
}
