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

// Package delay implements the delay node type: a context-aware sleep, the
// same suspension-point shape every I/O executor in this package follows
// (spec.md §5 — no synchronous lock may be held across a suspension
// point).
package delay

import (
	"context"
	"time"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/nodes"
)

// TypeName is the node type string this package registers.
const TypeName = "delay"

// Registration returns the nodes.TypeInfo for the delay node type.
func Registration() nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 1,
		CanStart:   false,
		New:        func() nodes.Executor { return &Executor{} },
	}
}

// Executor sleeps for the requested duration, or returns early if ctx is
// canceled.
type Executor struct{}

func (Executor) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	seconds, ok := asFloat(inputs["duration"])
	if !ok || seconds < 0 {
		return nil, &domainerrors.ValidationError{Field: "duration", Message: "delay requires a non-negative duration in seconds"}
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return map[string]any{"waited": true}, nil
	case <-ctx.Done():
		return nil, &domainerrors.ExecutorError{NodeType: TypeName, Cause: ctx.Err()}
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
