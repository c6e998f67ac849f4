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

// Package llm implements the extract_data_openai node type against the
// internal/llmclient collaborator contract. The node asks the model to
// return JSON and passes that text straight through as "Extracted Data" —
// it never re-parses the model's response, matching spec.md §4.5's
// "Extracted Data (JSON-as-string)" output shape.
package llm

import (
	"context"
	"fmt"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/llmclient"
	"github.com/flowforge/workflows/internal/nodes"
)

// TypeName is the node type string this package registers.
const TypeName = "extract_data_openai"

const defaultModel = "gpt-4o-mini"

const systemPrompt = "You extract structured data from the provided content and respond with JSON only, no prose."

// Registration returns the nodes.TypeInfo for extract_data_openai.
func Registration(client llmclient.Client) nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 4,
		CanStart:   false,
		New:        func() nodes.Executor { return &Executor{client: client} },
	}
}

// Executor runs one extraction call per Run invocation. The resolved
// API-Key credential is held only as a local variable, never written into
// Environment resources or logs (spec.md §9's secret-lifecycle rule) —
// this node forwards it to the client as a request option, not as output.
type Executor struct {
	client llmclient.Client
}

func (e *Executor) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	prompt, _ := inputs["prompt"].(string)
	if prompt == "" {
		return nil, &domainerrors.ValidationError{Field: "prompt", Message: "extract_data_openai requires a non-empty prompt"}
	}
	content, _ := inputs["content"].(string)
	if content == "" {
		return nil, &domainerrors.ValidationError{Field: "content", Message: "extract_data_openai requires non-empty content"}
	}
	apiKey, _ := inputs["api_key"].(string)
	if apiKey == "" {
		return nil, &domainerrors.ValidationError{Field: "api_key", Message: "extract_data_openai requires an API-Key credential"}
	}

	model, _ := inputs["model"].(string)
	if model == "" {
		model = defaultModel
	}

	text, err := e.client.Chat(ctx, apiKey, model, systemPrompt, []string{prompt, content})
	if err != nil {
		return nil, &domainerrors.ExecutorError{NodeType: TypeName, Cause: fmt.Errorf("extract_data_openai: %w", err)}
	}
	return map[string]any{"data": text}, nil
}
