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

// Package storeopen picks the store.Store/queue.Queue pair worker and
// scheduler-tick run against, based on DatabaseConfig.Driver. It is the
// single place that knows every concrete backend package exists, the same
// role noderegistry.Build plays for node executors.
package storeopen

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowforge/workflows/internal/config"
	"github.com/flowforge/workflows/internal/queue"
	"github.com/flowforge/workflows/internal/queue/memqueue"
	"github.com/flowforge/workflows/internal/queue/sqlqueue"
	"github.com/flowforge/workflows/internal/store"
	"github.com/flowforge/workflows/internal/store/postgres"
	"github.com/flowforge/workflows/internal/store/sqlite"
)

// Open returns a store.Store and queue.Queue for cfg.Database.Driver, plus
// the raw *sql.DB backing the store for collaborators (e.g. dbsecret) that
// need one directly. Both returned interface values have their own Close
// method; callers defer both, not the raw *sql.DB.
//
// "postgres" (the default) opens a pooled or null-pool connection per
// poolMode and pairs it with the SQL-table dispatch queue (sqlqueue),
// whose `SELECT … FOR UPDATE SKIP LOCKED` receive is what makes concurrent
// workers safe to run against the same table (spec.md §9 open question 2).
//
// "sqlite" is the single-node local-dev path spec.md §4.2 describes for
// short-lived tick processes without a running Postgres: SQLite has no
// `SKIP LOCKED`, so it pairs with the in-process memqueue instead of
// sqlqueue — correct for one worker process, not for multiple replicas.
func Open(ctx context.Context, cfg config.DatabaseConfig, poolMode string) (store.Store, queue.Queue, *sql.DB, error) {
	switch cfg.Driver {
	case "", "postgres":
		st, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN(), PoolMode: poolMode})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("storeopen: open postgres: %w", err)
		}
		q, err := sqlqueue.New(ctx, st.DB())
		if err != nil {
			st.Close()
			return nil, nil, nil, fmt.Errorf("storeopen: open sql queue: %w", err)
		}
		return st, q, st.DB(), nil

	case "sqlite":
		st, err := sqlite.New(sqlite.Config{Path: cfg.SQLitePath, WAL: true})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("storeopen: open sqlite: %w", err)
		}
		return st, memqueue.New(), st.DB(), nil

	default:
		return nil, nil, nil, fmt.Errorf("storeopen: unknown driver %q", cfg.Driver)
	}
}
