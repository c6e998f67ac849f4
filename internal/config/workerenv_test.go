package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/workflows/internal/config"
)

func TestDefaultWorkerEnv(t *testing.T) {
	cfg := config.DefaultWorkerEnv()
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "localhost", cfg.Database.Host)
	require.Equal(t, 5432, cfg.Database.Port)
	require.True(t, cfg.Database.UseSSL)
	require.Equal(t, "require", cfg.Database.SSLMode)
	require.True(t, cfg.Worker.PollingMode)
	require.Equal(t, 10, cfg.Worker.MaxPollMessages)
	require.Equal(t, 20*time.Second, cfg.Worker.PollWaitTime)
	require.Equal(t, 5*time.Minute, cfg.Scheduler.TickPeriod)
	require.Equal(t, 12, cfg.Scheduler.ReaperEveryTicks)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := config.DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5432, Name: "db", UseSSL: true, SSLMode: "require"}
	require.Equal(t, "postgres://u:p@h:5432/db?sslmode=require", d.DSN())

	d.UseSSL = false
	require.Equal(t, "postgres://u:p@h:5432/db?sslmode=disable", d.DSN())
}

func TestWorkerEnvFromEnv_Overrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.example.com")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_USE_SSL", "false")
	t.Setenv("MAX_POLL_MESSAGES", "5")
	t.Setenv("EXIT_AFTER_COMPLETION", "true")

	cfg, err := config.WorkerEnvFromEnv()
	require.NoError(t, err)
	require.Equal(t, "db.example.com", cfg.Database.Host)
	require.Equal(t, 6543, cfg.Database.Port)
	require.False(t, cfg.Database.UseSSL)
	require.Equal(t, 5, cfg.Worker.MaxPollMessages)
	require.True(t, cfg.Worker.ExitAfterCompletion)
}

func TestWorkerEnvFromEnv_InvalidPort(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")
	_, err := config.WorkerEnvFromEnv()
	require.Error(t, err)
}
