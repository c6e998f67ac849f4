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

package html

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `<html><body><h1 class="title">Hello</h1><p>World</p><script>evil()</script></body></html>`

func TestGetTextFromHTML_SelectorMatch(t *testing.T) {
	exec := GetTextFromHTMLRegistration().New()
	out, err := exec.Run(context.Background(), map[string]any{"html": sampleDoc, "selector": ".title"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", out["text"])
}

func TestGetTextFromHTML_NoMatch(t *testing.T) {
	exec := GetTextFromHTMLRegistration().New()
	_, err := exec.Run(context.Background(), map[string]any{"html": sampleDoc, "selector": ".missing"})
	require.Error(t, err)
}

func TestGetTextFromHTML_RequiresSelector(t *testing.T) {
	exec := GetTextFromHTMLRegistration().New()
	_, err := exec.Run(context.Background(), map[string]any{"html": sampleDoc})
	require.Error(t, err)
}

func TestCondenseHTML_StripsScripts(t *testing.T) {
	exec := CondenseHTMLRegistration().New()
	out, err := exec.Run(context.Background(), map[string]any{"html": sampleDoc})
	require.NoError(t, err)
	reduced, _ := out["html"].(string)
	assert.NotContains(t, reduced, "evil()")
	assert.Contains(t, reduced, "Hello")
}

func TestCondenseHTML_MaxLenTruncates(t *testing.T) {
	exec := CondenseHTMLRegistration().New()
	out, err := exec.Run(context.Background(), map[string]any{"html": sampleDoc, "max_len": 5})
	require.NoError(t, err)
	reduced, _ := out["html"].(string)
	assert.LessOrEqual(t, len(reduced), 5)
}
