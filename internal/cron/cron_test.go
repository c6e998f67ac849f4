package cron_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/workflows/internal/cron"
)

func TestNextRun_StrictlyAfterBase(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	next, err := cron.NextRun("*/5 * * * *", base)
	require.NoError(t, err)
	require.True(t, next.After(base))
	require.Equal(t, time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC), next)
}

func TestNextRun_SecondOccurrenceMatchesIndependentComputation(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 10, 0, time.UTC)
	expr := "*/5 * * * *"

	first, err := cron.NextRun(expr, base)
	require.NoError(t, err)

	second, err := cron.NextRun(expr, first)
	require.NoError(t, err)

	require.Equal(t, first.Add(5*time.Minute), second)
}

func TestNextRun_InvalidExpression(t *testing.T) {
	_, err := cron.NextRun("not a cron", time.Now())
	require.Error(t, err)

	var parseErr *cron.CronParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestValidate(t *testing.T) {
	require.NoError(t, cron.Validate("0 9 * * 1-5"))
	require.Error(t, cron.Validate("0 9 * *"))
}
