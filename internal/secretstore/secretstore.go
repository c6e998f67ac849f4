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

// Package secretstore is the collaborator contract for resolving a
// Credential's secret_ref into a plaintext value (spec.md §6 "SecretStore:
// resolve(secret_ref) -> plaintext"). Selection between the two backends
// (internal/secretstore/awssm and internal/secretstore/dbsecret) is by
// prefix, mirroring Credential.IsDBSecret from internal/store.
package secretstore

import "context"

// Store resolves an opaque or "db:"-prefixed secret reference to its
// plaintext value. Implementations must never log or persist the returned
// value; callers hold it only as a local variable for the duration of one
// node invocation.
type Store interface {
	Resolve(ctx context.Context, secretRef string) (string, error)
}

// Router dispatches to a local "db:"-prefixed backend or a remote one by
// inspecting the secretRef prefix, the same prefix-dispatch rule
// Credential.SecretRef documents in internal/store.
type Router struct {
	Local  Store
	Remote Store
}

const localPrefix = "db:"

func (r Router) Resolve(ctx context.Context, secretRef string) (string, error) {
	if len(secretRef) >= len(localPrefix) && secretRef[:len(localPrefix)] == localPrefix {
		return r.Local.Resolve(ctx, secretRef[len(localPrefix):])
	}
	return r.Remote.Resolve(ctx, secretRef)
}
