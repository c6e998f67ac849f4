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

// Package browser implements the six browser node types: the three launch
// variants (launch_standard_browser, launch_stealth_browser,
// launch_bright_data_browser) and the three page-interaction nodes
// (fill_input, click_element, wait_for_element), all against the
// internal/browserdriver collaborator contract.
package browser

import (
	"context"
	"time"

	"github.com/flowforge/workflows/internal/browserdriver"
	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/nodes"
)

// Node type names this package registers.
const (
	TypeLaunchStandard   = "launch_standard_browser"
	TypeLaunchStealth    = "launch_stealth_browser"
	TypeLaunchBrightData = "launch_bright_data_browser"
	TypeFillInput        = "fill_input"
	TypeClickElement     = "click_element"
	TypeWaitForElement   = "wait_for_element"
)

const defaultWaitTimeout = 30 * time.Second

// --- launch_* ---

type launchExecutor struct {
	driver browserdriver.Driver
	kind   browserdriver.Kind
}

// LaunchStandardRegistration returns the nodes.TypeInfo for
// launch_standard_browser.
func LaunchStandardRegistration(driver browserdriver.Driver) nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 5,
		CanStart:   true,
		New:        func() nodes.Executor { return &launchExecutor{driver: driver, kind: browserdriver.KindStandard} },
	}
}

// LaunchStealthRegistration returns the nodes.TypeInfo for
// launch_stealth_browser.
func LaunchStealthRegistration(driver browserdriver.Driver) nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 6,
		CanStart:   true,
		New:        func() nodes.Executor { return &launchExecutor{driver: driver, kind: browserdriver.KindStealth} },
	}
}

// LaunchBrightDataRegistration returns the nodes.TypeInfo for
// launch_bright_data_browser.
func LaunchBrightDataRegistration(driver browserdriver.Driver) nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 10,
		CanStart:   true,
		New:        func() nodes.Executor { return &launchExecutor{driver: driver, kind: browserdriver.KindBrightData} },
	}
}

func (e *launchExecutor) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	url, _ := inputs["url"].(string)
	if url == "" {
		return nil, &domainerrors.ValidationError{Field: "url", Message: "launch browser nodes require a non-empty url"}
	}

	opts := browserdriver.LaunchOptions{URL: url, Headless: true}
	if e.kind == browserdriver.KindBrightData {
		user, _ := inputs["user"].(string)
		password, _ := inputs["password"].(string)
		if user == "" || password == "" {
			return nil, &domainerrors.ValidationError{Field: "user/password", Message: "launch_bright_data_browser requires a user and a password credential"}
		}
		opts.Username = user
		opts.Password = password
	}

	page, err := e.driver.Launch(ctx, e.kind, opts)
	if err != nil {
		return nil, &domainerrors.ExecutorError{NodeType: string(e.kind), Cause: err}
	}

	return map[string]any{nodes.PageOutputKey: page}, nil
}

// --- fill_input ---

type fillExecutor struct{}

// FillInputRegistration returns the nodes.TypeInfo for fill_input.
func FillInputRegistration() nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 1,
		CanStart:   false,
		New:        func() nodes.Executor { return &fillExecutor{} },
	}
}

func (fillExecutor) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	page, err := currentPage(inputs)
	if err != nil {
		return nil, err
	}
	selector, _ := inputs["selector"].(string)
	if selector == "" {
		return nil, &domainerrors.ValidationError{Field: "selector", Message: "fill_input requires a non-empty selector"}
	}
	value, _ := inputs["value"].(string)

	if err := page.Fill(ctx, selector, value); err != nil {
		return nil, &domainerrors.ExecutorError{NodeType: TypeFillInput, Cause: err}
	}
	return map[string]any{nodes.PageOutputKey: page}, nil
}

// --- click_element ---

type clickExecutor struct{}

// ClickElementRegistration returns the nodes.TypeInfo for click_element.
func ClickElementRegistration() nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 1,
		CanStart:   false,
		New:        func() nodes.Executor { return &clickExecutor{} },
	}
}

func (clickExecutor) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	page, err := currentPage(inputs)
	if err != nil {
		return nil, err
	}
	selector, _ := inputs["selector"].(string)
	if selector == "" {
		return nil, &domainerrors.ValidationError{Field: "selector", Message: "click_element requires a non-empty selector"}
	}

	if err := page.Click(ctx, selector); err != nil {
		return nil, &domainerrors.ExecutorError{NodeType: TypeClickElement, Cause: err}
	}
	return map[string]any{nodes.PageOutputKey: page}, nil
}

// --- wait_for_element ---

type waitExecutor struct{}

// WaitForElementRegistration returns the nodes.TypeInfo for
// wait_for_element.
func WaitForElementRegistration() nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 1,
		CanStart:   false,
		New:        func() nodes.Executor { return &waitExecutor{} },
	}
}

func (waitExecutor) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	page, err := currentPage(inputs)
	if err != nil {
		return nil, err
	}
	selector, _ := inputs["selector"].(string)
	if selector == "" {
		return nil, &domainerrors.ValidationError{Field: "selector", Message: "wait_for_element requires a non-empty selector"}
	}
	visibility, _ := inputs["visibility"].(string)
	switch visibility {
	case "", string(browserdriver.Visible):
		visibility = string(browserdriver.Visible)
	case string(browserdriver.Hidden):
	default:
		return nil, &domainerrors.ValidationError{Field: "visibility", Message: "visibility must be \"visible\" or \"hidden\""}
	}

	timeout := defaultWaitTimeout
	if ms, ok := asFloat(inputs["timeout_ms"]); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	if err := page.WaitForSelector(ctx, selector, browserdriver.Visibility(visibility), timeout); err != nil {
		return nil, &domainerrors.ExecutorError{NodeType: TypeWaitForElement, Cause: err}
	}
	return map[string]any{"result": true}, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// currentPage resolves the Environment's current browser page from the
// reserved input key the runner injects on every invocation.
func currentPage(inputs map[string]any) (browserdriver.Page, error) {
	page, ok := inputs[nodes.PageInputKey].(browserdriver.Page)
	if !ok || page == nil {
		return nil, &domainerrors.ValidationError{Field: "Web Page", Message: "no browser page is open for this execution"}
	}
	return page, nil
}
