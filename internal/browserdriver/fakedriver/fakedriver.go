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

// Package fakedriver is an in-memory browserdriver.Driver used by node and
// runner tests: a fixture-backed double that serves canned HTML instead of
// driving a real browser.
package fakedriver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowforge/workflows/internal/browserdriver"
)

// Driver is a fake browserdriver.Driver that records every launch and
// serves a fixed HTML document (or a per-URL override) for Content calls.
type Driver struct {
	mu         sync.Mutex
	Launches   []browserdriver.LaunchOptions
	HTML       string
	HTMLForURL map[string]string
	// FailSelectors, when non-empty, names selectors that WaitForSelector
	// should time out on instead of succeeding immediately.
	FailSelectors map[string]bool
}

// New returns a Driver that serves html for every page's Content call.
func New(html string) *Driver {
	return &Driver{HTML: html, HTMLForURL: map[string]string{}}
}

func (d *Driver) Launch(_ context.Context, kind browserdriver.Kind, opts browserdriver.LaunchOptions) (browserdriver.Page, error) {
	d.mu.Lock()
	d.Launches = append(d.Launches, opts)
	d.mu.Unlock()

	html := d.HTML
	if override, ok := d.HTMLForURL[opts.URL]; ok {
		html = override
	}
	return &page{driver: d, kind: kind, url: opts.URL, html: html}, nil
}

type page struct {
	driver *Driver
	kind   browserdriver.Kind
	url    string
	html   string
	closed bool
}

func (p *page) Fill(ctx context.Context, selector, value string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.closed {
		return fmt.Errorf("fakedriver: fill on closed page")
	}
	return nil
}

func (p *page) Click(ctx context.Context, selector string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.closed {
		return fmt.Errorf("fakedriver: click on closed page")
	}
	return nil
}

func (p *page) WaitForSelector(ctx context.Context, selector string, visibility browserdriver.Visibility, timeout time.Duration) error {
	if p.driver.FailSelectors[selector] {
		select {
		case <-time.After(timeout):
			return fmt.Errorf("fakedriver: timed out waiting for %q to be %s", selector, visibility)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *page) Content(ctx context.Context) (string, error) {
	if p.closed {
		return "", fmt.Errorf("fakedriver: content on closed page")
	}
	return p.html, nil
}

func (p *page) Close(context.Context) error {
	p.closed = true
	return nil
}
