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

// Package anthropicclient implements llmclient.Client against the
// Anthropic Messages API. It is modeled on pkg/llm/providers'
// AnthropicProvider (same endpoint, same "x-api-key"/"anthropic-version"
// headers, same content-block decoding) but does not import that package:
// pkg/llm/providers is one compilation unit with pkg/llm/providers/
// claudecode (wired through that package's register.go init), and that
// provider shells out to a local agent CLI with no place in a server-side
// workflow node — importing it would ship an unrelated subsystem in the
// worker binary for the sake of one HTTP call.
package anthropicclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultMessagesURL = "https://api.anthropic.com/v1/messages"
	apiVersion         = "2023-06-01"
	requestTimeout     = 120 * time.Second
	maxTokens          = 4096
)

// Client adapts the Anthropic Messages API to llmclient.Client.
type Client struct {
	httpClient *http.Client
	messagesURL string
}

// New returns a Client. The underlying http.Client is safe for concurrent
// use across the worker's node executors, so one is shared rather than
// built per call.
func New() *Client {
	return &Client{httpClient: &http.Client{Timeout: requestTimeout}, messagesURL: defaultMessagesURL}
}

// NewWithBaseURL returns a Client targeting an alternate Messages endpoint,
// for tests that stand up an httptest.Server in place of the real API.
func NewWithBaseURL(url string) *Client {
	c := New()
	c.messagesURL = url
	return c
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []contentBlock `json:"content"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Chat implements llmclient.Client.
func (c *Client) Chat(ctx context.Context, apiKey, model, systemPrompt string, userMessages []string) (string, error) {
	messages := make([]anthropicMessage, 0, len(userMessages))
	for _, m := range userMessages {
		messages = append(messages, anthropicMessage{Role: "user", Content: m})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("anthropicclient: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("anthropicclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropicclient: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("anthropicclient: read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("anthropicclient: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("anthropicclient: api error (%s): %s", parsed.Error.Type, parsed.Error.Message)
		}
		return "", fmt.Errorf("anthropicclient: unexpected status %d", resp.StatusCode)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
