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

// Command worker runs the dispatch-queue consumer (C8) as a long-lived
// process or, with EXIT_AFTER_COMPLETION=true, as a single drain-and-exit
// invocation suited to a scheduled container job.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowforge/workflows/internal/browserdriver/fakedriver"
	"github.com/flowforge/workflows/internal/config"
	"github.com/flowforge/workflows/internal/ledger"
	"github.com/flowforge/workflows/internal/llmclient/anthropicclient"
	"github.com/flowforge/workflows/internal/noderegistry"
	"github.com/flowforge/workflows/internal/platformlog"
	"github.com/flowforge/workflows/internal/runner"
	"github.com/flowforge/workflows/internal/secretstore"
	"github.com/flowforge/workflows/internal/secretstore/awssm"
	"github.com/flowforge/workflows/internal/secretstore/dbsecret"
	"github.com/flowforge/workflows/internal/storeopen"
	"github.com/flowforge/workflows/internal/worker"
)

func main() {
	logger := platformlog.WithComponent(platformlog.New(platformlog.FromEnv()), "worker")

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

	st, q, db, err := storeopen.Open(ctx, cfg.Database, "pooled")
	if err != nil {
		logger.Error("failed to open store/queue", platformlog.Error(err))
		os.Exit(1)
	}
	defer st.Close()
	defer q.Close()

	secrets, err := buildSecretRouter(ctx, db)
	if err != nil {
		logger.Error("failed to initialize secret store", platformlog.Error(err))
		os.Exit(1)
	}

	// No real browser-automation library appears anywhere in this
	// platform's dependency corpus, so browser-family nodes run against
	// the in-memory fake driver until a real backend is adopted.
	registry := noderegistry.Build(noderegistry.Collaborators{
		Driver:        fakedriver.New(""),
		LLMClient:     anthropicclient.New(),
		WebhookClient: &http.Client{Timeout: 30 * time.Second},
		SMSClient:     &http.Client{Timeout: 15 * time.Second},
	})

	r := runner.New(st, ledger.New(st), registry, secrets, nil)
	w := worker.New(q, st, r, logger, nil, worker.Config{
		MaxMessages:         cfg.Worker.MaxPollMessages,
		VisibilityTimeout:   2 * time.Minute,
		PollWaitTime:        pollWaitTime(cfg),
		ExitAfterCompletion: cfg.Worker.ExitAfterCompletion,
	})

	logger.Info("worker starting", "polling_mode", cfg.Worker.PollingMode, "exit_after_completion", cfg.Worker.ExitAfterCompletion)
	if err := w.RunLoop(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker exited with error", platformlog.Error(err))
		os.Exit(1)
	}
}

func pollWaitTime(cfg config.WorkerEnv) time.Duration {
	if !cfg.Worker.PollingMode {
		return 0
	}
	return cfg.Worker.PollWaitTime
}

// buildSecretRouter wires the local database-encrypted backend as Local and,
// when AWS_SECRETS_REGION is set, AWS Secrets Manager as Remote.
func buildSecretRouter(ctx context.Context, db *sql.DB) (secretstore.Router, error) {
	masterKeyB64 := os.Getenv("SECRET_STORE_MASTER_KEY")
	if masterKeyB64 == "" {
		return secretstore.Router{}, fmt.Errorf("worker: SECRET_STORE_MASTER_KEY is required")
	}
	masterKey, err := dbsecret.DecodeMasterKey(masterKeyB64)
	if err != nil {
		return secretstore.Router{}, err
	}
	local, err := dbsecret.New(ctx, db, masterKey)
	if err != nil {
		return secretstore.Router{}, err
	}

	router := secretstore.Router{Local: local, Remote: local}
	if region := os.Getenv("AWS_SECRETS_REGION"); region != "" {
		remote, err := awssm.New(ctx, region)
		if err != nil {
			return secretstore.Router{}, err
		}
		router.Remote = remote
	}
	return router, nil
}
