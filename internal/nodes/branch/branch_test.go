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

package branch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranch_GreaterThan(t *testing.T) {
	exec := Executor{}
	out, err := exec.Run(context.Background(), map[string]any{
		"left": 10, "operator": ">", "right": 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "execute", out["True Path"])
	assert.Nil(t, out["False Path"])
	assert.Equal(t, true, out["Result"])
	assert.Equal(t, 10, out["Data"])
}

func TestBranch_FalsePath(t *testing.T) {
	exec := Executor{}
	out, err := exec.Run(context.Background(), map[string]any{
		"left": 1, "operator": ">", "right": 5,
	})
	require.NoError(t, err)
	assert.Nil(t, out["True Path"])
	assert.Equal(t, "execute", out["False Path"])
	assert.Equal(t, false, out["Result"])
}

func TestBranch_Contains(t *testing.T) {
	exec := Executor{}
	out, err := exec.Run(context.Background(), map[string]any{
		"left": "hello world", "operator": "contains", "right": "world",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["Result"])
}

func TestBranch_NotContains(t *testing.T) {
	exec := Executor{}
	out, err := exec.Run(context.Background(), map[string]any{
		"left": "hello world", "operator": "not contains", "right": "missing",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["Result"])
}

func TestBranch_UnsupportedOperator(t *testing.T) {
	exec := Executor{}
	_, err := exec.Run(context.Background(), map[string]any{
		"left": 1, "operator": "~=", "right": 1,
	})
	require.Error(t, err)
}

func TestBranch_MissingLeft(t *testing.T) {
	exec := Executor{}
	_, err := exec.Run(context.Background(), map[string]any{
		"operator": "==", "right": 1,
	})
	require.Error(t, err)
}
