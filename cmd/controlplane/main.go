// Command controlplane serves the engine's HTTP API backed by postgres:
// hand evaluation plus table run control, with agent seats driven over HTTP.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cardroom/engine/internal/api"
	"github.com/cardroom/engine/internal/game"
	"github.com/cardroom/engine/internal/persistence"

	_ "github.com/lib/pq"
)

const defaultAgentTimeoutMS = 5_000

type appConfig struct {
	databaseURL     string
	agentTimeout    time.Duration
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(cfg.maxIdleConns)
	db.SetConnMaxLifetime(cfg.connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := persistence.MigratePostgres(ctx, db); err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	repo := persistence.NewPostgresRepository(db)
	server := api.NewServer(
		repo,
		newRunnerFactory(),
		newProviderFactory(cfg.agentTimeout),
		logger,
	)

	logger.Info("control plane listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, server); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newRunnerFactory() func(provider game.ActionProvider, cfg game.RunnerConfig) api.Runner {
	return func(provider game.ActionProvider, cfg game.RunnerConfig) api.Runner {
		return game.New(provider, cfg)
	}
}

func loadConfig(getenv func(string) string) (appConfig, error) {
	cfg := appConfig{
		agentTimeout: defaultAgentTimeoutMS * time.Millisecond,
	}

	cfg.databaseURL = strings.TrimSpace(getenv("DATABASE_URL"))
	if cfg.databaseURL == "" {
		return appConfig{}, fmt.Errorf("missing required env DATABASE_URL")
	}

	if raw := strings.TrimSpace(getenv("AGENT_HTTP_TIMEOUT_MS")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			return appConfig{}, fmt.Errorf("invalid AGENT_HTTP_TIMEOUT_MS value %q", raw)
		}
		cfg.agentTimeout = time.Duration(parsed) * time.Millisecond
	}

	var err error
	cfg.maxOpenConns, err = positiveIntEnv(getenv, "DATABASE_MAX_OPEN_CONNS", 10)
	if err != nil {
		return appConfig{}, err
	}
	cfg.maxIdleConns, err = positiveIntEnv(getenv, "DATABASE_MAX_IDLE_CONNS", 5)
	if err != nil {
		return appConfig{}, err
	}
	lifetimeSec, err := positiveIntEnv(getenv, "DATABASE_CONN_MAX_LIFETIME_SEC", 300)
	if err != nil {
		return appConfig{}, err
	}
	cfg.connMaxLifetime = time.Duration(lifetimeSec) * time.Second

	return cfg, nil
}

func positiveIntEnv(getenv func(string) string, key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid %s value %q", key, raw)
	}
	return value, nil
}
