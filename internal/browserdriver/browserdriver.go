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

// Package browserdriver is the collaborator contract for the headless
// browser spec.md §6 names as out of scope: only the interface is defined
// here, plus a fake implementation (internal/browserdriver/fakedriver) used
// by node and runner tests. A real driver (chromedp, playwright, or a
// bright-data-proxied remote session) implements Driver against an actual
// browser process; nothing in this module imports one.
package browserdriver

import (
	"context"
	"time"
)

// Kind selects which launch variant produced a Page.
type Kind string

const (
	KindStandard   Kind = "standard"
	KindStealth    Kind = "stealth"
	KindBrightData Kind = "bright_data"
)

// Visibility is the wait condition for wait_for_element.
type Visibility string

const (
	Visible Visibility = "visible"
	Hidden  Visibility = "hidden"
)

// LaunchOptions configures a single browser launch.
type LaunchOptions struct {
	URL      string
	Username string // bright_data proxy user
	Password string // bright_data proxy password, resolved via Credential
	Headless bool
}

// Page is a single navigated browser tab. Environment (C6) holds at most
// one Page at a time — the single-page assumption from spec.md §4.6.
type Page interface {
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitForSelector(ctx context.Context, selector string, visibility Visibility, timeout time.Duration) error
	Content(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Driver launches browser sessions. Launch is itself a suspension point
// (spec.md §5): implementations must respect ctx cancellation.
type Driver interface {
	Launch(ctx context.Context, kind Kind, opts LaunchOptions) (Page, error)
}
