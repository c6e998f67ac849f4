package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/store"
	"github.com/flowforge/workflows/internal/store/memory"
)

func TestAtomicDebit_InsufficientCreditsLeavesBalanceUnchanged(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	u, err := s.CreateUser(ctx, store.User{})
	require.NoError(t, err)

	_, err = s.AtomicCredit(ctx, u.ID, 5)
	require.NoError(t, err)

	err = s.AtomicDebit(ctx, u.ID, 10)
	require.Error(t, err)
	var insufficient *domainerrors.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)

	bal, err := s.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 5, bal.Credits)
}

func TestAtomicDebit_SufficientCreditsDecrements(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	u, err := s.CreateUser(ctx, store.User{})
	require.NoError(t, err)
	_, err = s.AtomicCredit(ctx, u.ID, 10)
	require.NoError(t, err)

	require.NoError(t, s.AtomicDebit(ctx, u.ID, 4))

	bal, err := s.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 6, bal.Credits)
}

func TestGetDueWorkflows_OnlyPublishedAndDue(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u, err := s.CreateUser(ctx, store.User{})
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	due, err := s.CreateWorkflow(ctx, store.Workflow{UserID: u.ID, Status: store.WorkflowPublished, NextRunAt: &past})
	require.NoError(t, err)
	_, err = s.CreateWorkflow(ctx, store.Workflow{UserID: u.ID, Status: store.WorkflowPublished, NextRunAt: &future})
	require.NoError(t, err)
	_, err = s.CreateWorkflow(ctx, store.Workflow{UserID: u.ID, Status: store.WorkflowDraft, NextRunAt: &past})
	require.NoError(t, err)

	got, err := s.GetDueWorkflows(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, due.ID, got[0].ID)
}

func TestUpsertPhase_RedeliverySameNodeUpdatesNotDuplicates(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	execID := uuid.New()

	first, err := s.UpsertPhase(ctx, store.ExecutionPhase{
		WorkflowExecutionID: execID,
		Node:                store.DefinitionNode{ID: "node-1"},
		Status:              store.PhaseRunning,
	})
	require.NoError(t, err)

	second, err := s.UpsertPhase(ctx, store.ExecutionPhase{
		WorkflowExecutionID: execID,
		Node:                store.DefinitionNode{ID: "node-1"},
		Status:              store.PhaseCompleted,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	all, err := s.ListPhases(ctx, execID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, store.PhaseCompleted, all[0].Status)
}
