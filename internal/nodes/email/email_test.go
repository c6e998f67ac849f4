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

package email

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistration_CostAndStart(t *testing.T) {
	info := Registration()
	assert.Equal(t, 3, info.CreditCost)
	assert.False(t, info.CanStart)
}

func TestRun_RequiresHost(t *testing.T) {
	_, err := (Executor{}).Run(context.Background(), map[string]any{
		"from": "a@example.com", "to": "b@example.com", "subject": "s", "body": "b",
	})
	require.Error(t, err)
}

func TestRun_RequiresTo(t *testing.T) {
	_, err := (Executor{}).Run(context.Background(), map[string]any{
		"smtp_host": "localhost", "from": "a@example.com", "subject": "s", "body": "b",
	})
	require.Error(t, err)
}

func TestRun_InvalidFromAddress(t *testing.T) {
	_, err := (Executor{}).Run(context.Background(), map[string]any{
		"smtp_host": "localhost", "from": "not-an-address", "to": "b@example.com", "subject": "s", "body": "b",
	})
	require.Error(t, err)
}

func TestSplitAddresses(t *testing.T) {
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, splitAddresses("a@example.com, b@example.com"))
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, splitAddresses("a@example.com; b@example.com"))
	assert.Nil(t, splitAddresses(""))
}
