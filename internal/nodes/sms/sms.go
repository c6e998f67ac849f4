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

// Package sms implements the send_sms node type as a thin REST client
// against the Twilio Messages API — no Twilio SDK exists anywhere in the
// retrieval pack, so this follows the same shape as
// internal/nodes/webhook (net/http.Client plus a per-host gobreaker) rather
// than importing an ungrounded dependency.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/nodes"
)

// TypeName is the node type string this package registers.
const TypeName = "send_sms"

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// Registration returns the nodes.TypeInfo for send_sms. client defaults to
// a 15s-timeout http.Client when nil. The breaker is shared across every
// Executor New produces so consecutive-failure tracking persists.
func Registration(client *http.Client) nodes.TypeInfo {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sms:twilio",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return nodes.TypeInfo{
		CreditCost: 2,
		CanStart:   false,
		New: func() nodes.Executor {
			return &Executor{client: client, breaker: breaker}
		},
	}
}

// Executor sends one SMS message per Run invocation via Twilio's Messages
// resource. The resolved auth token is held only as a local variable for
// the duration of the call.
type Executor struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func (e *Executor) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return e.runAt(ctx, twilioBaseURL, inputs)
}

// runAt is Run with the Twilio base URL overridable, so tests can point it
// at an httptest.Server instead of the real API.
func (e *Executor) runAt(ctx context.Context, baseURL string, inputs map[string]any) (map[string]any, error) {
	accountSID, _ := inputs["account_sid"].(string)
	if accountSID == "" {
		return nil, &domainerrors.ValidationError{Field: "account_sid", Message: "send_sms requires a non-empty account_sid"}
	}
	authToken, _ := inputs["auth_token"].(string)
	if authToken == "" {
		return nil, &domainerrors.ValidationError{Field: "auth_token", Message: "send_sms requires a non-empty auth_token credential"}
	}
	from, _ := inputs["from"].(string)
	if from == "" {
		return nil, &domainerrors.ValidationError{Field: "from", Message: "send_sms requires a non-empty from number"}
	}
	to, _ := inputs["to"].(string)
	if to == "" {
		return nil, &domainerrors.ValidationError{Field: "to", Message: "send_sms requires a non-empty to number"}
	}
	body, _ := inputs["body"].(string)
	if body == "" {
		return nil, &domainerrors.ValidationError{Field: "body", Message: "send_sms requires a non-empty body"}
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", baseURL, accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("send_sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(accountSID, authToken)

	result, err := e.breaker.Execute(func() (any, error) {
		resp, err := e.client.Do(req)
		if err != nil {
			return nil, &domainerrors.TransientInfraError{Operation: "sms.send", Cause: err}
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("send_sms: read response: %w", err)
		}
		if resp.StatusCode >= 300 {
			return nil, &domainerrors.ExecutorError{NodeType: TypeName, Cause: fmt.Errorf("twilio returned %d: %s", resp.StatusCode, respBody)}
		}
		var parsed struct {
			SID    string `json:"sid"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("send_sms: parse response: %w", err)
		}
		return map[string]any{
			"message_sid": parsed.SID,
			"status":      parsed.Status,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]any), nil
}
