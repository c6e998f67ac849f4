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

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/workflows/internal/queue/memqueue"
	"github.com/flowforge/workflows/internal/store"
	"github.com/flowforge/workflows/internal/store/memory"
)

func fixedNow(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestTick_EnqueuesDueWorkflowAndAdvancesNextRun(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	q := memqueue.New()

	user, err := st.CreateUser(ctx, store.User{ID: uuid.New()})
	require.NoError(t, err)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	cronExpr := "*/5 * * * *"
	workflow, err := st.CreateWorkflow(ctx, store.Workflow{
		ID: uuid.New(), UserID: user.ID, Status: store.WorkflowPublished, Cron: &cronExpr, NextRunAt: &past,
	})
	require.NoError(t, err)

	version, err := st.CreateVersion(ctx, store.WorkflowVersion{ID: uuid.New(), WorkflowID: workflow.ID, IsActive: true})
	require.NoError(t, err)
	require.NoError(t, st.ActivateVersion(ctx, workflow.ID, version.ID))

	s := New(st, q, nil, fixedNow(now), Config{TickPeriod: time.Minute, ReaperEveryTicks: 60})
	require.NoError(t, s.Tick(ctx))

	msgs, err := q.Receive(ctx, 10, time.Minute, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, workflow.ID, msgs[0].WorkflowID)
	assert.Equal(t, version.ID, msgs[0].VersionID)

	gotWorkflow, err := st.GetWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, gotWorkflow.NextRunAt)
	assert.True(t, gotWorkflow.NextRunAt.After(now), "next_run_at must move past now so the same tick never re-enqueues it")
}

func TestTick_SkipsWorkflowWithoutActiveVersion(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	q := memqueue.New()

	user, err := st.CreateUser(ctx, store.User{ID: uuid.New()})
	require.NoError(t, err)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	cronExpr := "*/5 * * * *"
	_, err = st.CreateWorkflow(ctx, store.Workflow{
		ID: uuid.New(), UserID: user.ID, Status: store.WorkflowPublished, Cron: &cronExpr, NextRunAt: &past,
	})
	require.NoError(t, err)

	s := New(st, q, nil, fixedNow(now), Config{TickPeriod: time.Minute, ReaperEveryTicks: 60})
	require.NoError(t, s.Tick(ctx))

	msgs, err := q.Receive(ctx, 10, time.Minute, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReap_DeletesExpiredGuestsAndOrphanSessions(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	q := memqueue.New()

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expiredGuest, err := st.CreateUser(ctx, store.User{ID: uuid.New(), IsGuest: true, GuestExpiresAt: &past})
	require.NoError(t, err)
	liveGuest, err := st.CreateUser(ctx, store.User{ID: uuid.New(), IsGuest: true, GuestExpiresAt: &future})
	require.NoError(t, err)

	expiredSession, err := st.CreateGuestSession(ctx, store.GuestSession{ID: uuid.New(), UserID: liveGuest.ID, ExpiresAt: past})
	require.NoError(t, err)

	s := New(st, q, nil, fixedNow(now), Config{TickPeriod: time.Minute, ReaperEveryTicks: 60})
	require.NoError(t, s.Reap(ctx))

	_, err = st.GetUser(ctx, expiredGuest.ID)
	assert.Error(t, err, "expired guest user must be reaped")

	_, err = st.GetUser(ctx, liveGuest.ID)
	assert.NoError(t, err, "guest user not yet expired must survive a reap pass")

	sessions, err := st.ListExpiredGuestSessions(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, sessions, "expired session must be gone even though its owning user has not expired")
	_ = expiredSession
}

func TestDueForReap_WallClockAligned(t *testing.T) {
	s := New(memory.New(), memqueue.New(), nil, nil, Config{TickPeriod: time.Minute, ReaperEveryTicks: 60})

	aligned := time.Unix(60*60*100, 0).UTC() // multiple of 60 minute-ticks
	s.Now = fixedNow(aligned)
	assert.True(t, s.dueForReap())

	unaligned := aligned.Add(time.Minute)
	s.Now = fixedNow(unaligned)
	assert.False(t, s.dueForReap())
}
