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

package noderegistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_RegistersAllNineteenTypes(t *testing.T) {
	r := Build(Collaborators{})

	want := map[string]struct {
		cost     int
		canStart bool
	}{
		"launch_standard_browser":    {5, true},
		"launch_stealth_browser":     {6, true},
		"launch_bright_data_browser": {10, true},
		"fill_input":                 {1, false},
		"click_element":              {1, false},
		"wait_for_element":           {1, false},
		"get_html":                   {2, false},
		"get_text_from_html":         {2, false},
		"condense_html":              {2, false},
		"extract_data_openai":        {4, false},
		"read_property_from_json":    {1, false},
		"write_property_to_json":     {1, false},
		"json_transform":             {2, false},
		"merge_data":                 {1, false},
		"branch":                     {1, false},
		"deliver_to_webhook":         {2, false},
		"email_delivery":             {3, false},
		"send_sms":                   {2, false},
		"delay":                      {1, false},
	}
	assert.Len(t, r.Types(), len(want))

	for typ, exp := range want {
		info, err := r.Lookup(typ)
		require.NoErrorf(t, err, "type %q should be registered", typ)
		assert.Equalf(t, exp.cost, info.CreditCost, "type %q cost", typ)
		assert.Equalf(t, exp.canStart, info.CanStart, "type %q canStart", typ)
	}
}
