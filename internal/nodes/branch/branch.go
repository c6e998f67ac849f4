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

// Package branch implements the branch node type: a predicate over two
// resolved values whose routing hints (True Path / False Path) the runner
// does not currently use to prune downstream phases (spec Open Question 1,
// resolved as "preserve current semantics" — see DESIGN.md). Operators are
// evaluated with expr-lang/expr, the same evaluator the teacher's condition
// engine uses for step conditions, generalized from a fixed boolean
// expression to this node's small closed operator set.
package branch

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/nodes"
)

// TypeName is the node type string this package registers.
const TypeName = "branch"

var supportedOperators = map[string]bool{
	"==": true, "<": true, ">": true, "<=": true, ">=": true, "!=": true,
	"contains": true, "not contains": true,
}

// Registration returns the nodes.TypeInfo for the branch node type.
func Registration() nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 1,
		CanStart:   false,
		New:        func() nodes.Executor { return &Executor{} },
	}
}

// Executor evaluates one branch condition per Run invocation.
type Executor struct{}

func (Executor) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	left, hasLeft := inputs["left"]
	if !hasLeft {
		return nil, &domainerrors.ValidationError{Field: "left", Message: "branch requires a left value"}
	}
	right := inputs["right"]
	operator, _ := inputs["operator"].(string)
	if !supportedOperators[operator] {
		return nil, &domainerrors.ValidationError{Field: "operator", Message: fmt.Sprintf("unsupported branch operator %q", operator)}
	}

	result, err := evaluate(left, operator, right)
	if err != nil {
		return nil, err
	}

	var truePath, falsePath any
	if result {
		truePath = "execute"
	} else {
		falsePath = "execute"
	}

	return map[string]any{
		"True Path":  truePath,
		"False Path": falsePath,
		"Result":     result,
		"Data":       left,
	}, nil
}

// evaluate runs the comparison through expr-lang/expr so the operator set
// shares one evaluation engine with internal/nodes/jsonx's json_transform
// rules, rather than a hand-rolled switch per Go kind.
func evaluate(left any, operator string, right any) (bool, error) {
	var exprStr string
	switch operator {
	case "contains", "not contains":
		exprStr = "contains(left, right)"
	default:
		exprStr = fmt.Sprintf("left %s right", operator)
	}

	env := map[string]any{
		"left":  left,
		"right": right,
		"contains": func(l, r any) bool {
			switch lv := l.(type) {
			case string:
				rv, ok := r.(string)
				return ok && strings.Contains(lv, rv)
			case []any:
				for _, item := range lv {
					if item == r {
						return true
					}
				}
				return false
			default:
				return false
			}
		},
	}

	program, err := expr.Compile(exprStr, expr.Env(env))
	if err != nil {
		return false, fmt.Errorf("branch: compile operator %q: %w", operator, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("branch: evaluate operator %q: %w", operator, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("branch: operator %q did not yield a boolean", operator)
	}
	if operator == "not contains" {
		return !result, nil
	}
	return result, nil
}
