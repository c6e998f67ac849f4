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

// Command scheduler-tick runs the scheduler's fixed-cadence tick loop (C9)
// and its wall-clock-aligned guest reaper (C10). It opens its database pool
// in "none" mode: between ticks it holds no idle connection, since a tick
// only needs the database for the few seconds its scan-enqueue-advance
// pass takes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowforge/workflows/internal/config"
	"github.com/flowforge/workflows/internal/platformlog"
	"github.com/flowforge/workflows/internal/scheduler"
	"github.com/flowforge/workflows/internal/storeopen"
)

func main() {
	logger := platformlog.WithComponent(platformlog.New(platformlog.FromEnv()), "scheduler")

	cfg, err := config.WorkerEnvFromEnv()
	if err != nil {
		logger.Error("failed to load configuration", platformlog.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	st, q, _, err := storeopen.Open(ctx, cfg.Database, "none")
	if err != nil {
		logger.Error("failed to open store/queue", platformlog.Error(err))
		os.Exit(1)
	}
	defer st.Close()
	defer q.Close()

	s := scheduler.New(st, q, logger, nil, scheduler.Config{
		TickPeriod:       cfg.Scheduler.TickPeriod,
		ReaperEveryTicks: cfg.Scheduler.ReaperEveryTicks,
	})

	logger.Info("scheduler starting", "tick_period", cfg.Scheduler.TickPeriod.String())
	if err := s.RunLoop(ctx); err != nil && ctx.Err() == nil {
		logger.Error("scheduler exited with error", platformlog.Error(err))
		os.Exit(1)
	}
}
