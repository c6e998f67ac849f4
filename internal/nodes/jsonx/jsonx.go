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

// Package jsonx implements the read_property_from_json, write_property_to_json,
// json_transform, and merge_data node types, grounded on the teacher's jq
// executor (timeout-bounded gojq evaluation) for dot-path read/write and its
// expr evaluator (compile-and-cache) for the json_transform rule set.
package jsonx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/itchyny/gojq"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/nodes"
)

const queryTimeout = 1 * time.Second

// runQuery compiles and runs a gojq expression against data, bounded by
// queryTimeout the same way the teacher's jq.Executor bounds user-supplied
// expressions.
func runQuery(ctx context.Context, expression string, data any) (any, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, &domainerrors.ValidationError{Field: "query", Message: fmt.Sprintf("parse error: %v", err)}
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, &domainerrors.ValidationError{Field: "query", Message: fmt.Sprintf("compile error: %v", err)}
	}

	execCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		iter := code.Run(data)
		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				errCh <- err
				return
			}
			results = append(results, v)
		}
		switch len(results) {
		case 0:
			resultCh <- nil
		case 1:
			resultCh <- results[0]
		default:
			resultCh <- results
		}
	}()

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		return nil, fmt.Errorf("jsonx: query evaluation: %w", err)
	case <-execCtx.Done():
		return nil, fmt.Errorf("jsonx: query timed out after %v", queryTimeout)
	}
}

// --- read_property_from_json ---

type readExecutor struct{}

// ReadPropertyRegistration returns the TypeInfo for read_property_from_json.
func ReadPropertyRegistration() nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 1,
		CanStart:   false,
		New:        func() nodes.Executor { return &readExecutor{} },
	}
}

func (readExecutor) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	query, _ := inputs["path"].(string)
	if query == "" {
		return nil, &domainerrors.ValidationError{Field: "path", Message: "read_property_from_json requires a non-empty path"}
	}
	data, ok := inputs["data"]
	if !ok {
		return nil, &domainerrors.ValidationError{Field: "data", Message: "read_property_from_json requires data"}
	}
	value, err := runQuery(ctx, query, normalize(data))
	if err != nil {
		return nil, err
	}
	return map[string]any{"value": value}, nil
}

// --- write_property_to_json ---

type writeExecutor struct{}

// WritePropertyRegistration returns the TypeInfo for write_property_to_json.
func WritePropertyRegistration() nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 1,
		CanStart:   false,
		New:        func() nodes.Executor { return &writeExecutor{} },
	}
}

func (writeExecutor) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	path, _ := inputs["path"].(string)
	if path == "" {
		return nil, &domainerrors.ValidationError{Field: "path", Message: "write_property_to_json requires a non-empty path"}
	}
	data, ok := inputs["data"]
	if !ok {
		return nil, &domainerrors.ValidationError{Field: "data", Message: "write_property_to_json requires data"}
	}
	value := inputs["value"]

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("jsonx: marshal value: %w", err)
	}
	// Literal-substitute the already-JSON-encoded value into the assignment
	// filter rather than threading it through as a jq variable, matching the
	// teacher's jq executor shape of one Parse/Compile/Run per expression.
	query := fmt.Sprintf("%s = (%s)", path, string(valueJSON))
	result, err := runQuery(ctx, query, normalize(data))
	if err != nil {
		return nil, err
	}
	return map[string]any{"data": result}, nil
}

// --- json_transform ---

// transformEvaluator compiles and caches expr programs the same way the
// teacher's expression.Evaluator does for branch conditions, generalized
// here to return arbitrary values rather than only booleans.
type transformEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newTransformEvaluator() *transformEvaluator {
	return &transformEvaluator{cache: make(map[string]*vm.Program)}
}

func (e *transformEvaluator) compile(rule string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[rule]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(rule, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[rule] = prog
	e.mu.Unlock()
	return prog, nil
}

type transformExecutor struct {
	evaluator *transformEvaluator
}

// JSONTransformRegistration returns the TypeInfo for json_transform. The
// expr program cache is shared across every Executor New produces.
func JSONTransformRegistration() nodes.TypeInfo {
	evaluator := newTransformEvaluator()
	return nodes.TypeInfo{
		CreditCost: 2,
		CanStart:   false,
		New:        func() nodes.Executor { return &transformExecutor{evaluator: evaluator} },
	}
}

func (t *transformExecutor) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	rules, ok := inputs["rules"].(map[string]any)
	if !ok || len(rules) == 0 {
		return nil, &domainerrors.ValidationError{Field: "rules", Message: "json_transform requires a rules object mapping output field to expression"}
	}
	data := normalize(inputs["data"])

	env := map[string]any{"data": data}
	out := make(map[string]any, len(rules))
	for field, raw := range rules {
		rule, ok := raw.(string)
		if !ok {
			return nil, &domainerrors.ValidationError{Field: "rules." + field, Message: "each rule must be a string expression"}
		}
		prog, err := t.evaluator.compile(rule)
		if err != nil {
			return nil, &domainerrors.ValidationError{Field: "rules." + field, Message: fmt.Sprintf("failed to compile expression: %v", err)}
		}
		result, err := expr.Run(prog, env)
		if err != nil {
			return nil, fmt.Errorf("jsonx: json_transform rule %q: %w", field, err)
		}
		out[field] = result
	}
	return map[string]any{"data": out}, nil
}

// --- merge_data ---

type mergeExecutor struct{}

// MergeDataRegistration returns the TypeInfo for merge_data.
func MergeDataRegistration() nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 1,
		CanStart:   false,
		New:        func() nodes.Executor { return &mergeExecutor{} },
	}
}

func (mergeExecutor) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	sources, ok := inputs["sources"].([]any)
	if !ok || len(sources) == 0 {
		return nil, &domainerrors.ValidationError{Field: "sources", Message: "merge_data requires a non-empty sources array"}
	}
	strategy, _ := inputs["strategy"].(string)
	if strategy == "" {
		strategy = "overwrite"
	}
	if strategy != "overwrite" && strategy != "append" {
		return nil, &domainerrors.ValidationError{Field: "strategy", Message: fmt.Sprintf("unsupported merge_data strategy %q", strategy)}
	}

	if strategy == "append" {
		var merged []any
		for _, src := range sources {
			switch v := normalize(src).(type) {
			case []any:
				merged = append(merged, v...)
			default:
				merged = append(merged, v)
			}
		}
		return map[string]any{"data": merged}, nil
	}

	merged := make(map[string]any)
	for _, src := range sources {
		obj, ok := normalize(src).(map[string]any)
		if !ok {
			return nil, &domainerrors.ValidationError{Field: "sources", Message: "each source for merge_data must be a JSON object under the overwrite strategy"}
		}
		for k, v := range obj {
			merged[k] = v
		}
	}
	return map[string]any{"data": merged}, nil
}

// normalize round-trips data through encoding/json so gojq and expr see
// plain map[string]any/[]any/float64 values regardless of what concrete Go
// type the upstream node produced.
func normalize(data any) any {
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return data
	}
	return out
}
