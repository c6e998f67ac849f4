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

// Package webhook implements the deliver_to_webhook node type: a single
// outbound HTTP call whose method, headers, and body come from resolved
// node inputs, the same request-building shape as the teacher's HTTP
// action operations generalized from a fixed operation set to one
// configurable delivery.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/nodes"
)

// TypeName is the node type string this package registers.
const TypeName = "deliver_to_webhook"

// Registration returns the nodes.TypeInfo for the deliver_to_webhook node
// type. The circuit breakers are shared across every Executor New produces,
// since the point of the breaker is to remember consecutive failures across
// invocations, not reset on each one. client defaults to a 30s-timeout
// http.Client when nil.
func Registration(client *http.Client) nodes.TypeInfo {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	breakers := newBreakerSet()
	return nodes.TypeInfo{
		CreditCost: 2,
		CanStart:   false,
		New: func() nodes.Executor {
			return &Executor{client: client, breakers: breakers}
		},
	}
}

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// Executor delivers one webhook call per Run invocation. A shared
// gobreaker.CircuitBreaker, keyed by target host, protects the platform
// from hammering a webhook endpoint that is already failing — once open, a
// call fails fast with the breaker's own error instead of waiting out
// another timeout.
type Executor struct {
	client   *http.Client
	breakers *breakerSet
}

// New returns a webhook node Executor. client defaults to a 30s-timeout
// http.Client when nil.
func New(client *http.Client) *Executor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Executor{client: client, breakers: newBreakerSet()}
}

func (e *Executor) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	url, _ := inputs["url"].(string)
	if url == "" {
		return nil, &domainerrors.ValidationError{Field: "url", Message: "deliver_to_webhook requires a non-empty url"}
	}
	method, _ := inputs["method"].(string)
	if method == "" {
		method = "POST"
	}
	method = strings.ToUpper(method)
	if !allowedMethods[method] {
		return nil, &domainerrors.ValidationError{Field: "method", Message: fmt.Sprintf("unsupported webhook method %q", method)}
	}

	var bodyReader io.Reader
	var bodyBytes []byte
	if body, ok := inputs["body"]; ok && body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("webhook: marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("webhook: build request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := inputs["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	breaker := e.breakers.forHost(req.URL.Host)
	result, err := breaker.Execute(func() (any, error) {
		resp, err := e.client.Do(req)
		if err != nil {
			return nil, &domainerrors.TransientInfraError{Operation: "webhook.deliver", Cause: err}
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("webhook: read response: %w", err)
		}
		return map[string]any{
			"status_code": resp.StatusCode,
			"body":        string(respBody),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]any), nil
}

// breakerSet holds one circuit breaker per target host so a failing
// webhook endpoint cannot trip the breaker for an unrelated one.
type breakerSet struct {
	get func(host string) *gobreaker.CircuitBreaker
}

func newBreakerSet() *breakerSet {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	return &breakerSet{
		get: func(host string) *gobreaker.CircuitBreaker {
			if b, ok := breakers[host]; ok {
				return b
			}
			b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        "webhook:" + host,
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 5
				},
			})
			breakers[host] = b
			return b
		},
	}
}

func (s *breakerSet) forHost(host string) *gobreaker.CircuitBreaker { return s.get(host) }
