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

// Package email implements the email_delivery node type against
// wneessen/go-mail, the same SMTP client the retrieval pack's own email
// node (rakunlabs-at) builds on — generalized here from NodeConfig-lookup
// templating to the direct resolved-input shape spec.md §4.5 describes.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/nodes"
)

// TypeName is the node type string this package registers.
const TypeName = "email_delivery"

const sendTimeout = 30 * time.Second

// Registration returns the nodes.TypeInfo for email_delivery.
func Registration() nodes.TypeInfo {
	return nodes.TypeInfo{
		CreditCost: 3,
		CanStart:   false,
		New:        func() nodes.Executor { return &Executor{} },
	}
}

// Executor sends one email per Run invocation. The resolved SMTP password
// credential lives only as a local variable for the duration of the call.
type Executor struct{}

func (Executor) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	host, _ := inputs["smtp_host"].(string)
	if host == "" {
		return nil, &domainerrors.ValidationError{Field: "smtp_host", Message: "email_delivery requires a non-empty smtp_host"}
	}
	port, ok := asInt(inputs["smtp_port"])
	if !ok || port <= 0 {
		port = 587
	}
	username, _ := inputs["username"].(string)
	password, _ := inputs["password"].(string)
	from, _ := inputs["from"].(string)
	if from == "" {
		return nil, &domainerrors.ValidationError{Field: "from", Message: "email_delivery requires a non-empty from address"}
	}
	to, _ := inputs["to"].(string)
	if to == "" {
		return nil, &domainerrors.ValidationError{Field: "to", Message: "email_delivery requires at least one to address"}
	}
	subject, _ := inputs["subject"].(string)
	if subject == "" {
		return nil, &domainerrors.ValidationError{Field: "subject", Message: "email_delivery requires a non-empty subject"}
	}
	body, _ := inputs["body"].(string)
	if body == "" {
		return nil, &domainerrors.ValidationError{Field: "body", Message: "email_delivery requires a non-empty body"}
	}
	cc, _ := inputs["cc"].(string)
	bcc, _ := inputs["bcc"].(string)
	useTLS, _ := inputs["tls"].(bool)

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, &domainerrors.ValidationError{Field: "from", Message: fmt.Sprintf("invalid from address: %v", err)}
	}
	if err := m.To(splitAddresses(to)...); err != nil {
		return nil, &domainerrors.ValidationError{Field: "to", Message: fmt.Sprintf("invalid to address: %v", err)}
	}
	if addrs := splitAddresses(cc); len(addrs) > 0 {
		if err := m.Cc(addrs...); err != nil {
			return nil, &domainerrors.ValidationError{Field: "cc", Message: fmt.Sprintf("invalid cc address: %v", err)}
		}
	}
	if addrs := splitAddresses(bcc); len(addrs) > 0 {
		if err := m.Bcc(addrs...); err != nil {
			return nil, &domainerrors.ValidationError{Field: "bcc", Message: fmt.Sprintf("invalid bcc address: %v", err)}
		}
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)
	m.SetMessageID()

	opts := []mail.Option{mail.WithPort(port), mail.WithTimeout(sendTimeout)}
	if username != "" || password != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(username), mail.WithPassword(password))
	}
	if useTLS {
		opts = append(opts, mail.WithSSL(), mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSConfig(&tls.Config{ServerName: host}), mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, &domainerrors.ExecutorError{NodeType: TypeName, Cause: fmt.Errorf("create smtp client: %w", err)}
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return nil, &domainerrors.ExecutorError{NodeType: TypeName, Cause: fmt.Errorf("send: %w", err)}
	}

	return map[string]any{
		"status":     "sent",
		"message_id": m.GetGenMessageID(),
	}, nil
}

func splitAddresses(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ";", ",")
	parts := strings.Split(s, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
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
