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

// Package queue defines the at-least-once dispatch queue (C3) that
// decouples the scheduler from the worker. Messages carry enough
// information for the worker to start an execution without a round trip to
// the persistence gateway first.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is one dispatch entry, addressed to a single workflow execution.
type Message struct {
	ReceiptHandle string
	WorkflowID    uuid.UUID
	ExecutionID   uuid.UUID
	VersionID     uuid.UUID
	EnqueuedAt    time.Time

	// ReceiveCount is how many times this message has been handed out by
	// Receive, counting the current receive. The worker logs it with each
	// message; poison detection does not depend on it.
	ReceiveCount int
}

// Queue is the dispatch queue contract. VisibilityTimeout hides a received
// message from other receivers until either Delete is called or the
// timeout elapses, at which point it becomes receivable again — the
// at-least-once redelivery guarantee the runner's idempotent phase upsert
// relies on.
type Queue interface {
	// Send enqueues a new message for workflowID/executionID/versionID.
	Send(ctx context.Context, workflowID, executionID, versionID uuid.UUID) error

	// Receive returns up to maxMessages visible messages, making each
	// invisible to other receivers for visibilityTimeout. waitTime bounds how
	// long Receive blocks for at least one message before returning empty
	// (long-poll semantics); zero means return immediately.
	Receive(ctx context.Context, maxMessages int, visibilityTimeout, waitTime time.Duration) ([]Message, error)

	// Delete removes a message permanently, acknowledging successful
	// processing. Deleting an already-deleted or expired receipt handle is a
	// no-op, not an error, so a worker's shutdown race with expiry never
	// surfaces a spurious failure.
	Delete(ctx context.Context, receiptHandle string) error

	Close() error
}
