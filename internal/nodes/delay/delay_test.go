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

package delay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay_Waits(t *testing.T) {
	exec := Executor{}
	start := time.Now()
	out, err := exec.Run(context.Background(), map[string]any{"duration": 0.05})
	require.NoError(t, err)
	assert.Equal(t, true, out["waited"])
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDelay_CanceledContext(t *testing.T) {
	exec := Executor{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Run(ctx, map[string]any{"duration": 10})
	require.Error(t, err)
}

func TestDelay_NegativeDuration(t *testing.T) {
	exec := Executor{}
	_, err := exec.Run(context.Background(), map[string]any{"duration": -1})
	require.Error(t, err)
}
