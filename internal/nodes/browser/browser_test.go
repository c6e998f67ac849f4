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

package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/workflows/internal/browserdriver/fakedriver"
	"github.com/flowforge/workflows/internal/nodes"
)

func TestLaunchStandard_ReturnsPage(t *testing.T) {
	driver := fakedriver.New("<html></html>")
	info := LaunchStandardRegistration(driver)
	assert.Equal(t, 5, info.CreditCost)
	assert.True(t, info.CanStart)

	exec := info.New()
	out, err := exec.Run(context.Background(), map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	require.NotNil(t, out[nodes.PageOutputKey])
	assert.Len(t, driver.Launches, 1)
}

func TestLaunchBrightData_RequiresCredentials(t *testing.T) {
	driver := fakedriver.New("")
	exec := LaunchBrightDataRegistration(driver).New()
	_, err := exec.Run(context.Background(), map[string]any{"url": "https://example.com"})
	require.Error(t, err)
}

func TestFillInput_RequiresPage(t *testing.T) {
	exec := FillInputRegistration().New()
	_, err := exec.Run(context.Background(), map[string]any{"selector": "#x", "value": "y"})
	require.Error(t, err)
}

func TestFillInput_UsesInjectedPage(t *testing.T) {
	driver := fakedriver.New("<html></html>")
	launched, err := LaunchStandardRegistration(driver).New().Run(context.Background(), map[string]any{"url": "https://example.com"})
	require.NoError(t, err)

	exec := FillInputRegistration().New()
	out, err := exec.Run(context.Background(), map[string]any{
		"selector":           "#x",
		"value":              "y",
		nodes.PageInputKey:   launched[nodes.PageOutputKey],
	})
	require.NoError(t, err)
	require.NotNil(t, out[nodes.PageOutputKey])
}

func TestWaitForElement_TimesOut(t *testing.T) {
	driver := fakedriver.New("<html></html>")
	driver.FailSelectors = map[string]bool{"#missing": true}
	launched, err := LaunchStandardRegistration(driver).New().Run(context.Background(), map[string]any{"url": "https://example.com"})
	require.NoError(t, err)

	exec := WaitForElementRegistration().New()
	_, err = exec.Run(context.Background(), map[string]any{
		"selector":         "#missing",
		"visibility":       "visible",
		"timeout_ms":       10,
		nodes.PageInputKey: launched[nodes.PageOutputKey],
	})
	require.Error(t, err)
}
