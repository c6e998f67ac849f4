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

// Package memqueue is an in-memory queue.Queue used by worker and scheduler
// tests that don't need a real SQL table, and by internal/storeopen as the
// queue paired with the single-process sqlite driver.
package memqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/workflows/internal/queue"
)

type entry struct {
	msg       queue.Message
	visibleAt time.Time
	inFlight  bool
}

// Queue is an in-memory, mutex-guarded queue.Queue.
type Queue struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextID  int64
}

// New returns an empty in-memory queue.
func New() *Queue {
	return &Queue{entries: make(map[string]*entry)}
}

func (q *Queue) Close() error { return nil }

func (q *Queue) Send(_ context.Context, workflowID, executionID, versionID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	handle := fmt.Sprintf("mem-%d", q.nextID)
	q.entries[handle] = &entry{
		msg: queue.Message{
			ReceiptHandle: handle,
			WorkflowID:    workflowID,
			ExecutionID:   executionID,
			VersionID:     versionID,
			EnqueuedAt:    time.Now().UTC(),
		},
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context, maxMessages int, visibilityTimeout, waitTime time.Duration) ([]queue.Message, error) {
	deadline := time.Now().Add(waitTime)
	for {
		msgs := q.claim(maxMessages, visibilityTimeout)
		if len(msgs) > 0 || waitTime <= 0 || time.Now().After(deadline) {
			return msgs, nil
		}
		timer := time.NewTimer(10 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *Queue) claim(maxMessages int, visibilityTimeout time.Duration) []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var out []queue.Message
	for _, e := range q.entries {
		if len(out) >= maxMessages {
			break
		}
		if e.inFlight && now.Before(e.visibleAt) {
			continue
		}
		e.inFlight = true
		e.visibleAt = now.Add(visibilityTimeout)
		e.msg.ReceiveCount++
		out = append(out, e.msg)
	}
	return out
}

func (q *Queue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, receiptHandle)
	return nil
}

// ResetVisibility mirrors sqlqueue.Queue's explicit-NACK helper.
func (q *Queue) ResetVisibility(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[receiptHandle]; ok {
		e.inFlight = false
		e.visibleAt = time.Time{}
	}
	return nil
}

var _ queue.Queue = (*Queue)(nil)
