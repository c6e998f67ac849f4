package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/ledger"
	"github.com/flowforge/workflows/internal/store"
	"github.com/flowforge/workflows/internal/store/memory"
)

func TestDebit_InsufficientCreditsLeavesBalanceUnchanged(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	l := ledger.New(s)

	u, err := s.CreateUser(ctx, store.User{})
	require.NoError(t, err)
	_, err = l.Credit(ctx, u.ID, 3)
	require.NoError(t, err)

	err = l.Debit(ctx, u.ID, 5)
	require.Error(t, err)
	var insufficient *domainerrors.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)

	balance, err := l.Balance(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 3, balance)
}

func TestDebit_ZeroAmountIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	l := ledger.New(s)

	u, err := s.CreateUser(ctx, store.User{})
	require.NoError(t, err)

	require.NoError(t, l.Debit(ctx, u.ID, 0))
}

func TestSufficient(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	l := ledger.New(s)

	u, err := s.CreateUser(ctx, store.User{})
	require.NoError(t, err)
	_, err = l.Credit(ctx, u.ID, 10)
	require.NoError(t, err)

	ok, err := l.Sufficient(ctx, u.ID, 10)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Sufficient(ctx, u.ID, 11)
	require.NoError(t, err)
	require.False(t, ok)
}
