package memqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/workflows/internal/queue/memqueue"
)

func TestReceive_MessageInvisibleUntilTimeoutElapses(t *testing.T) {
	ctx := context.Background()
	q := memqueue.New()

	require.NoError(t, q.Send(ctx, uuid.New(), uuid.New(), uuid.New()))

	first, err := q.Receive(ctx, 10, 20*time.Millisecond, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, 1, first[0].ReceiveCount)

	empty, err := q.Receive(ctx, 10, 20*time.Millisecond, 0)
	require.NoError(t, err)
	require.Empty(t, empty)

	time.Sleep(25 * time.Millisecond)

	redelivered, err := q.Receive(ctx, 10, 20*time.Millisecond, 0)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	require.Equal(t, 2, redelivered[0].ReceiveCount)
	require.Equal(t, first[0].ReceiptHandle, redelivered[0].ReceiptHandle)
}

func TestDelete_RemovesMessagePermanently(t *testing.T) {
	ctx := context.Background()
	q := memqueue.New()
	require.NoError(t, q.Send(ctx, uuid.New(), uuid.New(), uuid.New()))

	msgs, err := q.Receive(ctx, 10, time.Minute, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.Delete(ctx, msgs[0].ReceiptHandle))
	require.NoError(t, q.Delete(ctx, msgs[0].ReceiptHandle)) // idempotent

	time.Sleep(5 * time.Millisecond)
	none, err := q.Receive(ctx, 10, time.Millisecond, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}
