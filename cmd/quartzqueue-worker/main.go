// Command quartzqueue-worker runs the pull/dispatch/execute loop (spec
// §4.D) against a direct Postgres connection, serving its own log-stream
// WebSocket and health endpoints.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/quartzqueue/internal/concurrency"
	"github.com/bobmcallan/quartzqueue/internal/lockcache"
	"github.com/bobmcallan/quartzqueue/internal/platform/config"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
	"github.com/bobmcallan/quartzqueue/internal/platform/version"
	"github.com/bobmcallan/quartzqueue/internal/queue"
	"github.com/bobmcallan/quartzqueue/internal/secret"
	"github.com/bobmcallan/quartzqueue/internal/store"
	"github.com/bobmcallan/quartzqueue/internal/worker"
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
	version.PrintBanner("quartzqueue-worker", cfg.Environment, cfg.Worker.Name)
	logger.Info().Str("config", configPath).Str("worker", cfg.Worker.Name).Str("version", version.Version).Msg("starting quartzqueue-worker")

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
	variables := store.NewVariableStore(pool)
	resources := store.NewResourceStore(pool)
	secretStore := store.NewSecretStore(pool)

	controller := concurrency.New(concurrencyStore, logger)
	txStore := store.NewTransactor(pool)
	engine := queue.New(jobs, entries, completed, controller, txStore, logger)

	encryptionKey, err := resolveEncryptionKey(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve secret encryption key")
	}
	secrets, err := secret.NewProvider(secretStore, nil, encryptionKey, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize secret provider")
	}

	resolvers := buildResolvers(pool, store.NewLockCacheStore(pool), logger)

	w := worker.New(
		&cfg.Worker, &cfg.Exec, engine,
		jobs, entries, pings, variables, resources,
		secrets, resolvers, &cfg.Redis, logger,
	)
	w.Start(ctx)
	defer w.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/logs/{job_id}", func(rw http.ResponseWriter, r *http.Request) {
		w.Hub().ServeWS(r.PathValue("job_id"), rw, r)
	})
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/version", versionHandler)

	port := cfg.Server.Port + 1 // worker listens one port above the store API
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", port).Msg("worker log-stream HTTP surface ready")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	version.PrintShutdownBanner("quartzqueue-worker")
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("quartzqueue-worker stopped")
}

// buildResolvers wires a lockcache.Resolver for each language whose
// dependency spec needs a resolved lockfile. No concrete package-manager
// shellout is plugged in yet, so each Resolve returns an error rather than
// silently producing an empty lockfile — resolveDependencies then fails
// the job instead of running it unpinned.
func buildResolvers(pool *store.Pool, cache store.LockCacheStore, logger *log.Logger) map[string]*lockcache.Resolver {
	unimplemented := func(language string) lockcache.Resolve {
		return func(_ context.Context, fingerprint string, _ []byte) ([]byte, []byte, error) {
			return nil, nil, fmt.Errorf("no dependency resolver wired for language %q (fingerprint %s)", language, fingerprint)
		}
	}

	languages := []string{"typescript-bun", "typescript-deno", "typescript-native", "python", "go", "php", "rust", "csharp", "java"}
	resolvers := make(map[string]*lockcache.Resolver, len(languages))
	for _, l := range languages {
		resolvers[l] = lockcache.NewResolver(l, unimplemented(l), pool, cache, 1, 3, time.Hour, logger)
	}
	return resolvers
}

// resolveEncryptionKey decodes the configured base64 key, or derives a
// deterministic development key when none is set and the environment is
// not production — never in production, where a missing key is fatal.
func resolveEncryptionKey(cfg *config.Config) ([]byte, error) {
	if cfg.Secret.EncryptionKey == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("secret.encryption_key must be set in production")
		}
		return []byte("dev-only-32-byte-secretbox-key!!"), nil
	}
	key, err := base64.StdEncoding.DecodeString(cfg.Secret.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("secret.encryption_key must be base64: %w", err)
	}
	return key, nil
}

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
