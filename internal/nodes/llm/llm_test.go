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

package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	lastAPIKey string
	response   string
	err        error
}

func (f *fakeClient) Chat(_ context.Context, apiKey, _, _ string, _ []string) (string, error) {
	f.lastAPIKey = apiKey
	return f.response, f.err
}

func TestExtractDataOpenAI_Success(t *testing.T) {
	client := &fakeClient{response: `{"title":"hello"}`}
	info := Registration(client)
	assert.Equal(t, 4, info.CreditCost)
	assert.False(t, info.CanStart)

	out, err := info.New().Run(context.Background(), map[string]any{
		"prompt": "extract the title", "content": "<h1>hello</h1>", "api_key": "sk-test",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"hello"}`, out["data"])
	assert.Equal(t, "sk-test", client.lastAPIKey)
}

func TestExtractDataOpenAI_RequiresAPIKey(t *testing.T) {
	client := &fakeClient{response: "{}"}
	_, err := Registration(client).New().Run(context.Background(), map[string]any{
		"prompt": "p", "content": "c",
	})
	require.Error(t, err)
}
