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

// Package fakesecrets is an in-memory secretstore.Store double for runner
// and worker tests that need credential resolution without a real AWS
// account or database.
package fakesecrets

import (
	"context"
	"fmt"
)

// Store maps secret references to plaintext values set up by the test.
type Store struct {
	Values map[string]string
}

// New returns a Store seeded with values.
func New(values map[string]string) *Store {
	return &Store{Values: values}
}

func (s *Store) Resolve(_ context.Context, secretRef string) (string, error) {
	v, ok := s.Values[secretRef]
	if !ok {
		return "", fmt.Errorf("fakesecrets: no value for secret ref %q", secretRef)
	}
	return v, nil
}
