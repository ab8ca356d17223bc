package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"aioffice/internal/client"
	"aioffice/internal/common"
	"aioffice/internal/config"
	"aioffice/internal/engine"
	"aioffice/internal/model"
	"aioffice/internal/service"
	"aioffice/internal/storage"
)

// initStorage opens the configured database and runs migrations.
func initStorage(ctx context.Context) (service.Storage, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initEngine wires storage and the orchestrator client into an engine.
// The caller owns the returned storage and must close it.
func initEngine(ctx context.Context) (*engine.Engine, service.Storage, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	orchestrator := client.New(cfg.OrchestratorURL, client.WithTimeout(cfg.OrchestratorTimeout))
	eng := engine.NewWithConfig(store, orchestrator, engine.Config{
		OrchestratorTimeout: cfg.OrchestratorTimeout,
	})
	return eng, store, nil
}

// currentActor resolves the acting user from flag, config or environment.
func currentActor() (string, error) {
	actor := viper.GetString("actor")
	if actor == "" {
		actor = os.Getenv("USER")
	}
	if actor == "" {
		return "", common.NewUserError("no actor given; use --actor or set AIOFFICE_ACTOR",
			common.ErrMissingConfig)
	}
	return actor, nil
}

// resolveCase accepts either a numeric id or a case reference like
// CASE-00042.
func resolveCase(ctx context.Context, store service.Storage, arg string) (*model.Case, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return store.GetCase(ctx, id)
	}
	return store.GetCaseByName(ctx, strings.ToUpper(arg))
}
