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

package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistration_CostAndStart(t *testing.T) {
	info := Registration(nil)
	assert.Equal(t, 2, info.CreditCost)
	assert.False(t, info.CanStart)
}

func TestRun_MissingFields(t *testing.T) {
	info := Registration(nil)
	_, err := info.New().Run(context.Background(), map[string]any{"account_sid": "AC1"})
	require.Error(t, err)
}

func TestRun_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer server.Close()

	info := Registration(server.Client())
	exec := info.New().(*Executor)
	// point at the test server instead of Twilio's real API
	out, err := exec.runAt(context.Background(), server.URL, map[string]any{
		"account_sid": "AC1", "auth_token": "tok", "from": "+1000", "to": "+2000", "body": "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "SM123", out["message_sid"])
	assert.Equal(t, "queued", out["status"])
}
