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

// Package html implements get_html, get_text_from_html, and condense_html,
// using goquery (itself a golang.org/x/net/html wrapper) for CSS-selector
// traversal — the same HTML-parsing library the rest of the retrieval pack
// reaches for when a node needs DOM-shaped queries rather than a generic
// jq/expr evaluation.
package html

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/flowforge/workflows/internal/browserdriver"
	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/nodes"
)

// Node type names this package registers.
const (
	TypeGetHTML         = "get_html"
	TypeGetTextFromHTML = "get_text_from_html"
	TypeCondenseHTML    = "condense_html"
)

const defaultCondenseMaxLen = 4000

// --- get_html ---

type getHTMLExecutor struct{}

// GetHTMLRegistration returns the nodes.TypeInfo for get_html.
func GetHTMLRegistration() nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 2,
		CanStart:   false,
		New:        func() nodes.Executor { return &getHTMLExecutor{} },
	}
}

func (getHTMLExecutor) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	page, ok := inputs[nodes.PageInputKey].(browserdriver.Page)
	if !ok || page == nil {
		return nil, &domainerrors.ValidationError{Field: "Web Page", Message: "get_html requires an open browser page"}
	}
	content, err := page.Content(ctx)
	if err != nil {
		return nil, &domainerrors.ExecutorError{NodeType: TypeGetHTML, Cause: err}
	}
	return map[string]any{"html": content}, nil
}

// --- get_text_from_html ---

type getTextExecutor struct{}

// GetTextFromHTMLRegistration returns the nodes.TypeInfo for
// get_text_from_html.
func GetTextFromHTMLRegistration() nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 2,
		CanStart:   false,
		New:        func() nodes.Executor { return &getTextExecutor{} },
	}
}

func (getTextExecutor) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	docHTML, selector, err := htmlAndSelector(inputs, true)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(docHTML))
	if err != nil {
		return nil, fmt.Errorf("html: parse document: %w", err)
	}

	var text string
	if selector == "" {
		text = strings.TrimSpace(doc.Text())
	} else {
		selection := doc.Find(selector)
		if selection.Length() == 0 {
			return nil, &domainerrors.ValidationError{Field: "selector", Message: fmt.Sprintf("no element matched selector %q", selector)}
		}
		text = strings.TrimSpace(selection.First().Text())
	}
	return map[string]any{"text": text}, nil
}

// --- condense_html ---

type condenseExecutor struct{}

// CondenseHTMLRegistration returns the nodes.TypeInfo for condense_html.
func CondenseHTMLRegistration() nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 2,
		CanStart:   false,
		New:        func() nodes.Executor { return &condenseExecutor{} },
	}
}

func (condenseExecutor) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	docHTML, selector, err := htmlAndSelector(inputs, false)
	if err != nil {
		return nil, err
	}

	maxLen := defaultCondenseMaxLen
	if v, ok := inputs["max_len"]; ok {
		if n, ok := asInt(v); ok && n > 0 {
			maxLen = n
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(docHTML))
	if err != nil {
		return nil, fmt.Errorf("html: parse document: %w", err)
	}

	// Strip script/style/comment noise before collapsing whitespace, the
	// same "reduce to readable content" shape an LLM-facing extraction
	// prompt needs from condense_html's output.
	doc.Find("script, style, noscript, svg").Remove()

	root := doc.Selection
	if selector != "" {
		root = doc.Find(selector)
		if root.Length() == 0 {
			return nil, &domainerrors.ValidationError{Field: "selector", Message: fmt.Sprintf("no element matched selector %q", selector)}
		}
	}

	reduced, err := root.Html()
	if err != nil {
		return nil, fmt.Errorf("html: render reduced document: %w", err)
	}
	reduced = collapseWhitespace(reduced)
	if len(reduced) > maxLen {
		reduced = reduced[:maxLen]
	}
	return map[string]any{"html": reduced}, nil
}

// htmlAndSelector resolves the "html" and optional "selector" inputs
// shared by get_text_from_html and condense_html. requireSelector is true
// for get_text_from_html, where spec.md §4.5 lists Selector as required.
func htmlAndSelector(inputs map[string]any, requireSelector bool) (string, string, error) {
	docHTML, _ := inputs["html"].(string)
	if docHTML == "" {
		return "", "", &domainerrors.ValidationError{Field: "html", Message: "requires non-empty html content"}
	}
	selector, _ := inputs["selector"].(string)
	if requireSelector && selector == "" {
		return "", "", &domainerrors.ValidationError{Field: "selector", Message: "get_text_from_html requires a non-empty selector"}
	}
	return docHTML, selector, nil
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
