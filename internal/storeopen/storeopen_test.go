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

package storeopen_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/workflows/internal/config"
	"github.com/flowforge/workflows/internal/storeopen"
)

func TestOpen_Sqlite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "workflows.db")
	cfg := config.DatabaseConfig{Driver: "sqlite", SQLitePath: dbPath}

	st, q, db, err := storeopen.Open(context.Background(), cfg, "none")
	require.NoError(t, err)
	require.NotNil(t, st)
	require.NotNil(t, q)
	require.NotNil(t, db)

	require.NoError(t, q.Close())
	require.NoError(t, st.Close())
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "oracle"}

	_, _, _, err := storeopen.Open(context.Background(), cfg, "none")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown driver")
}
