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

// Package sqlqueue implements queue.Queue over a SQL table using
// SELECT ... FOR UPDATE SKIP LOCKED for distributed claiming, so
// concurrent workers never claim the same row.
package sqlqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/workflows/internal/queue"
)

// Queue is a SQL-table-backed queue.Queue. It keeps its own table, outside
// internal/store's schema, on whatever *sql.DB it is given; internal/storeopen
// hands it the postgres store's pool.
type Queue struct {
	db *sql.DB
}

// New wraps an already-open PostgreSQL *sql.DB (pgx) and ensures the
// backing table exists. The DDL and the SKIP LOCKED receive are
// PostgreSQL-only.
func New(ctx context.Context, db *sql.DB) (*Queue, error) {
	q := &Queue{db: db}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS dispatch_queue (
			id SERIAL PRIMARY KEY,
			workflow_id UUID NOT NULL,
			execution_id UUID NOT NULL,
			version_id UUID NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			locked_by UUID,
			visible_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			receive_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("sqlqueue: create table: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_queue_visible ON dispatch_queue(status, visible_at)`); err != nil {
		return nil, fmt.Errorf("sqlqueue: create index: %w", err)
	}
	return q, nil
}

func (q *Queue) Close() error { return nil }

func (q *Queue) Send(ctx context.Context, workflowID, executionID, versionID uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dispatch_queue (workflow_id, execution_id, version_id, status, visible_at)
		VALUES ($1, $2, $3, 'pending', NOW())`,
		workflowID, executionID, versionID)
	if err != nil {
		return fmt.Errorf("sqlqueue: send: %w", err)
	}
	return nil
}

// Receive polls for up to maxMessages visible rows, claiming each with
// FOR UPDATE SKIP LOCKED so concurrent workers never claim the same row,
// then re-polls at a fixed interval until waitTime elapses or a message
// turns up.
func (q *Queue) Receive(ctx context.Context, maxMessages int, visibilityTimeout, waitTime time.Duration) ([]queue.Message, error) {
	deadline := time.Now().Add(waitTime)
	const pollInterval = 250 * time.Millisecond

	for {
		msgs, err := q.claim(ctx, maxMessages, visibilityTimeout)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 || waitTime <= 0 || time.Now().After(deadline) {
			return msgs, nil
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *Queue) claim(ctx context.Context, maxMessages int, visibilityTimeout time.Duration) ([]queue.Message, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, workflow_id, execution_id, version_id, receive_count, created_at
		FROM dispatch_queue
		WHERE status = 'pending' AND visible_at <= NOW()
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue: claim select: %w", err)
	}

	type claimed struct {
		id            int64
		workflowID    uuid.UUID
		executionID   uuid.UUID
		versionID     uuid.UUID
		receiveCount  int
		enqueuedAt    time.Time
	}
	var batch []claimed
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.id, &c.workflowID, &c.executionID, &c.versionID, &c.receiveCount, &c.enqueuedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlqueue: scan: %w", err)
		}
		batch = append(batch, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlqueue: rows: %w", err)
	}
	if len(batch) == 0 {
		return nil, tx.Commit()
	}

	visibleAt := time.Now().Add(visibilityTimeout)
	out := make([]queue.Message, 0, len(batch))
	for _, c := range batch {
		_, err := tx.ExecContext(ctx, `
			UPDATE dispatch_queue SET status = 'in_flight', visible_at = $2, receive_count = receive_count + 1
			WHERE id = $1`, c.id, visibleAt)
		if err != nil {
			return nil, fmt.Errorf("sqlqueue: claim update: %w", err)
		}
		out = append(out, queue.Message{
			ReceiptHandle: receiptHandle(c.id),
			WorkflowID:    c.workflowID,
			ExecutionID:   c.executionID,
			VersionID:     c.versionID,
			EnqueuedAt:    c.enqueuedAt,
			ReceiveCount:  c.receiveCount + 1,
		})
	}
	return out, tx.Commit()
}

func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	id, err := parseReceiptHandle(receiptHandle)
	if err != nil {
		return fmt.Errorf("sqlqueue: delete: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM dispatch_queue WHERE id = $1`, id); err != nil {
		return fmt.Errorf("sqlqueue: delete: %w", err)
	}
	return nil
}

// ResetVisibility makes a message immediately receivable again, reverting
// an in-flight claim back to pending. The worker calls this when it gives
// up on a message without deleting it (explicit NACK) rather than waiting
// out the full visibility timeout.
func (q *Queue) ResetVisibility(ctx context.Context, receiptHandle string) error {
	id, err := parseReceiptHandle(receiptHandle)
	if err != nil {
		return fmt.Errorf("sqlqueue: reset visibility: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`UPDATE dispatch_queue SET status = 'pending', visible_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("sqlqueue: reset visibility: %w", err)
	}
	return nil
}

func receiptHandle(id int64) string { return fmt.Sprintf("dq-%d", id) }

func parseReceiptHandle(h string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(h, "dq-%d", &id); err != nil {
		return 0, fmt.Errorf("malformed receipt handle %q: %w", h, err)
	}
	return id, nil
}

var _ queue.Queue = (*Queue)(nil)
