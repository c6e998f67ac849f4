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

// Package llmclient is the collaborator contract for extract_data_openai
// (spec.md §6 "LLMClient: chat(model, systemPrompt, userMessages) → text").
// Provider internals are out of scope per spec.md §6; internal/nodes/llm
// depends only on Client, and the one real implementation in this module
// is internal/llmclient/anthropicclient.
package llmclient

import "context"

// Client completes a single chat-shaped request against an LLM provider.
// apiKey is the plaintext secret resolved from the node's credential for
// this call only — implementations must not retain it beyond the call.
type Client interface {
	Chat(ctx context.Context, apiKey, model, systemPrompt string, userMessages []string) (string, error)
}
