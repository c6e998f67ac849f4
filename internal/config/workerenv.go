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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds connection settings for the persistence gateway.
type DatabaseConfig struct {
	Driver   string // "postgres" (default) or "sqlite" for local dev
	User     string
	Password string
	Host     string
	Port     int
	Name     string
	UseSSL   bool
	SSLMode  string // "require" (default) or "disable"
	SQLitePath string // used only when Driver == "sqlite"
}

// DSN builds a postgres connection string from the configured fields.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "require"
	}
	if !d.UseSSL {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// QueueConfig holds settings for the dispatch queue adapter.
type QueueConfig struct {
	QueueURL    string
	EndpointURL string // override for local dev
}

// WorkerEnvConfig holds settings for the worker loop (C8).
type WorkerEnvConfig struct {
	PollingMode         bool
	MaxPollMessages     int
	PollWaitTime        time.Duration
	ExitAfterCompletion bool
}

// SchedulerEnvConfig holds settings for the scheduler loop (C9).
type SchedulerEnvConfig struct {
	TickPeriod       time.Duration
	ReaperEveryTicks int
}

// WorkerEnv is the top-level configuration for worker/scheduler processes,
// loaded from the environment variables in the platform's external
// interface contract rather than from the YAML profile config used by the
// CLI/daemon surface.
type WorkerEnv struct {
	Database  DatabaseConfig
	Queue     QueueConfig
	Worker    WorkerEnvConfig
	Scheduler SchedulerEnvConfig
}

// DefaultWorkerEnv returns a WorkerEnv populated with reasonable defaults
// before any environment overrides are applied.
func DefaultWorkerEnv() WorkerEnv {
	return WorkerEnv{
		Database: DatabaseConfig{
			Driver:     "postgres",
			Host:       "localhost",
			Port:       5432,
			UseSSL:     true,
			SSLMode:    "require",
			SQLitePath: "workflows.db",
		},
		Worker: WorkerEnvConfig{
			PollingMode:     true,
			MaxPollMessages: 10,
			PollWaitTime:    20 * time.Second,
		},
		Scheduler: SchedulerEnvConfig{
			TickPeriod:       5 * time.Minute,
			ReaperEveryTicks: 12, // 60min / 5min tick-period
		},
	}
}

// WorkerEnvFromEnv loads a WorkerEnv from defaults overridden field-by-field
// by the environment variables named in the platform's external interface
// contract. Unset variables leave the default in place.
func WorkerEnvFromEnv() (WorkerEnv, error) {
	cfg := DefaultWorkerEnv()

	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DB_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid DB_PORT %q: %w", v, err)
		}
		cfg.Database.Port = port
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_USE_SSL"); v != "" {
		cfg.Database.UseSSL = v == "true"
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		cfg.Database.SSLMode = v
	}

	if v := os.Getenv("WORKFLOW_QUEUE_URL"); v != "" {
		cfg.Queue.QueueURL = v
	}
	if v := os.Getenv("WORKFLOW_QUEUE_ENDPOINT"); v != "" {
		cfg.Queue.EndpointURL = v
	}

	if v := os.Getenv("POLLING_MODE"); v != "" {
		cfg.Worker.PollingMode = v == "true"
	}
	if v := os.Getenv("MAX_POLL_MESSAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid MAX_POLL_MESSAGES %q: %w", v, err)
		}
		cfg.Worker.MaxPollMessages = n
	}
	if v := os.Getenv("POLL_WAIT_TIME"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid POLL_WAIT_TIME %q: %w", v, err)
		}
		cfg.Worker.PollWaitTime = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("EXIT_AFTER_COMPLETION"); v != "" {
		cfg.Worker.ExitAfterCompletion = v == "true"
	}

	return cfg, nil
}
