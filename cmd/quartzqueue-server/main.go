// Command quartzqueue-server runs the store-facing process: the Postgres
// pool and schema, the liveness sweep, and the worker↔store HTTP protocol
// that remote (agent-mode) workers speak against (spec §6).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/quartzqueue/internal/concurrency"
	"github.com/bobmcallan/quartzqueue/internal/agentproto"
	"github.com/bobmcallan/quartzqueue/internal/monitor"
	"github.com/bobmcallan/quartzqueue/internal/platform/config"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
	"github.com/bobmcallan/quartzqueue/internal/platform/version"
	"github.com/bobmcallan/quartzqueue/internal/queue"
	"github.com/bobmcallan/quartzqueue/internal/store"
)

func main() {
	version.LoadFromFile()

	configPath := resolveConfigPath()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.Logging.Level)
	listenAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	version.PrintBanner("quartzqueue-server", cfg.Environment, listenAddr)
	logger.Info().Str("config", configPath).Str("version", version.Version).Msg("starting quartzqueue-server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Open(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database pool")
	}
	defer pool.Close()

	if err := pool.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}

	jobs := store.NewJobStore(pool)
	entries := store.NewQueueStore(pool)
	completed := store.NewCompletedStore(pool)
	concurrencyStore := store.NewConcurrencyStore(pool)
	pings := store.NewWorkerPingStore(pool)
	runtime := store.NewJobRuntimeStore(pool)

	controller := concurrency.New(concurrencyStore, logger)
	txStore := store.NewTransactor(pool)
	engine := queue.New(jobs, entries, completed, controller, txStore, logger)

	resetCount, err := entries.ResetRunningJobs(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to reclaim running jobs on startup")
	}
	if resetCount > 0 {
		logger.Warn().Int("count", resetCount).Msg("reclaimed running jobs left over from a previous process")
	}

	liveness := monitor.New(
		pool, jobs, entries, completed, controller, engine,
		cfg.Monitor.GetPingTimeout(), cfg.Monitor.GetRetentionPeriod(),
		restartZombiesEnabled(), logger,
	)
	if err := liveness.Start(ctx, "@every "+cfg.Monitor.GetSweepInterval().String()); err != nil {
		logger.Fatal().Err(err).Msg("failed to start liveness monitor")
	}
	defer liveness.Stop()

	agent := agentproto.NewServer(pings, entries, runtime, logger)

	mux := http.NewServeMux()
	agent.Register(mux)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/version", versionHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("store HTTP surface ready")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	version.PrintShutdownBanner("quartzqueue-server")
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("quartzqueue-server stopped")
}

// resolveConfigPath checks, in order: an explicit env var, a path beside
// the running binary, then a path beside the current working directory.
func resolveConfigPath() string {
	if p := os.Getenv("QUARTZQUEUE_CONFIG"); p != "" {
		return p
	}
	if exe, err := os.Executable(); err == nil {
		candidate := exe + ".toml"
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "config/quartzqueue.toml"
}

// restartZombiesEnabled defaults to true; set QUARTZQUEUE_RESTART_ZOMBIES=false
// to make every zombie a terminal failure regardless of job_kind.
func restartZombiesEnabled() bool {
	return os.Getenv("QUARTZQUEUE_RESTART_ZOMBIES") != "false"
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version": version.Version,
		"build":   version.Build,
		"commit":  version.GitCommit,
	})
}
