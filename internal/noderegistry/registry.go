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

// Package noderegistry assembles every node family into one
// nodes.Registry. It is the single place that knows every concrete node
// family package exists, so cmd/ only ever depends on this package and the
// collaborator contracts its Build needs, never on the node families
// directly.
package noderegistry

import (
	"net/http"

	"github.com/flowforge/workflows/internal/browserdriver"
	"github.com/flowforge/workflows/internal/llmclient"
	"github.com/flowforge/workflows/internal/nodes"
	"github.com/flowforge/workflows/internal/nodes/branch"
	"github.com/flowforge/workflows/internal/nodes/browser"
	"github.com/flowforge/workflows/internal/nodes/delay"
	"github.com/flowforge/workflows/internal/nodes/email"
	"github.com/flowforge/workflows/internal/nodes/html"
	"github.com/flowforge/workflows/internal/nodes/jsonx"
	"github.com/flowforge/workflows/internal/nodes/llm"
	"github.com/flowforge/workflows/internal/nodes/sms"
	"github.com/flowforge/workflows/internal/nodes/webhook"
)

// Collaborators bundles the external-service handles the node families that
// need one require to build their registrations. Fields may be nil to fall
// back to a field's own package default (a nil WebhookClient or SMSClient
// falls back to its package's default *http.Client; browserdriver and
// llmclient have no usable zero value and must be supplied).
type Collaborators struct {
	Driver        browserdriver.Driver
	LLMClient     llmclient.Client
	WebhookClient *http.Client
	SMSClient     *http.Client
}

// Build constructs the full node registry for all node types: the six
// browser nodes, three HTML nodes, one LLM node, four JSON nodes, branch,
// webhook, email, sms, and delay.
func Build(c Collaborators) *nodes.Registry {
	r := nodes.NewRegistry()

	r.Register(browser.TypeLaunchStandard, browser.LaunchStandardRegistration(c.Driver))
	r.Register(browser.TypeLaunchStealth, browser.LaunchStealthRegistration(c.Driver))
	r.Register(browser.TypeLaunchBrightData, browser.LaunchBrightDataRegistration(c.Driver))
	r.Register(browser.TypeFillInput, browser.FillInputRegistration())
	r.Register(browser.TypeClickElement, browser.ClickElementRegistration())
	r.Register(browser.TypeWaitForElement, browser.WaitForElementRegistration())

	r.Register(html.TypeGetHTML, html.GetHTMLRegistration())
	r.Register(html.TypeGetTextFromHTML, html.GetTextFromHTMLRegistration())
	r.Register(html.TypeCondenseHTML, html.CondenseHTMLRegistration())

	r.Register(llm.TypeName, llm.Registration(c.LLMClient))

	r.Register("read_property_from_json", jsonx.ReadPropertyRegistration())
	r.Register("write_property_to_json", jsonx.WritePropertyRegistration())
	r.Register("json_transform", jsonx.JSONTransformRegistration())
	r.Register("merge_data", jsonx.MergeDataRegistration())

	r.Register(branch.TypeName, branch.Registration())
	r.Register(webhook.TypeName, webhook.Registration(c.WebhookClient))
	r.Register(email.TypeName, email.Registration())
	r.Register(sms.TypeName, sms.Registration(c.SMSClient))
	r.Register(delay.TypeName, delay.Registration())

	return r
}
