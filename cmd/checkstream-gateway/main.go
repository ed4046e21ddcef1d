// checkstream-gateway is the safety/compliance gateway server: it loads
// tenant and policy configuration, builds the classifier pipelines, and
// serves the guarded chat-completions HTTP API in front of an upstream LLM
// backend.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/checkstream/gateway/internal/api"
	"github.com/checkstream/gateway/internal/audit"
	cfgpkg "github.com/checkstream/gateway/internal/config"
	"github.com/checkstream/gateway/internal/metrics"
	"github.com/checkstream/gateway/internal/tenant"
	"github.com/checkstream/gateway/internal/tenant/keyindex"
	"github.com/checkstream/gateway/internal/workerpool"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("CHECKSTREAM_CONFIG", "./config.yaml"), "path to the gateway config file")
	flag.Parse()

	envPath := filepath.Join(filepath.Dir(*configPath), ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("starting checkstream gateway", "config", *configPath, "port", httpPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	rf, err := loadRegistryFile(cfg.Default.ClassifiersConfig)
	if err != nil {
		slog.Error("failed to load classifiers config", "error", err)
		os.Exit(1)
	}

	classifiers, err := cfgpkg.BuildClassifiers(rf)
	if err != nil {
		slog.Error("failed to build classifiers", "error", err)
		os.Exit(1)
	}

	apiKeyIndex, keyIdx := loadAPIKeyIndex(ctx)
	if keyIdx != nil {
		defer keyIdx.Close()
	}

	resolver, err := tenant.FromConfig(cfg, classifiers, apiKeyIndex)
	if err != nil {
		slog.Error("failed to build tenant runtimes", "error", err)
		os.Exit(1)
	}

	auditSvc, err := audit.NewService(audit.DefaultWriterConfig(cfg.Default.AuditDir), func(kind string) { metrics.Error(kind) })
	if err != nil {
		slog.Error("failed to start audit service", "error", err)
		os.Exit(1)
	}
	defer auditSvc.Shutdown()

	pool := workerpool.New(parseConcurrency(getEnv("CHECKSTREAM_MAX_CONCURRENCY", "64")))
	if err := pool.Start(ctx); err != nil {
		slog.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}
	defer pool.Stop()

	server := api.NewServer(resolver, auditSvc, pool)

	serverErrs := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "port", httpPort)
		if err := server.Start(":" + httpPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrs <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serverErrs:
		slog.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	slog.Info("checkstream gateway stopped")
}

// loadRegistryFile reads and parses the classifiers.yaml file at path. A
// missing file yields an empty registry (just the core built-in
// classifiers BuildClassifiers always registers), matching config.Load's
// tolerance for single-tenant deployments without one.
func loadRegistryFile(path string) (*cfgpkg.RegistryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("classifiers config not found, using built-in classifiers only", "path", path)
			return &cfgpkg.RegistryFile{}, nil
		}
		return nil, err
	}
	return cfgpkg.LoadRegistryFile(cfgpkg.ExpandEnv(data))
}

// loadAPIKeyIndex loads the hashed-API-key -> tenant-id index from Postgres
// when CHECKSTREAM_DB_DSN is set, or returns an empty index for
// deployments with no tenants configured via API key (the API-key
// resolution step then simply never matches).
func loadAPIKeyIndex(ctx context.Context) (map[string]string, *keyindex.Index) {
	dsn := os.Getenv("CHECKSTREAM_DB_DSN")
	if dsn == "" {
		return map[string]string{}, nil
	}

	idx, err := keyindex.Open(ctx, dsn)
	if err != nil {
		slog.Error("failed to open api key index, continuing without it", "error", err)
		return map[string]string{}, nil
	}

	loaded, err := idx.LoadAll(ctx)
	if err != nil {
		slog.Error("failed to load api key index, continuing without it", "error", err)
		return map[string]string{}, idx
	}
	slog.Info("loaded api key index", "keys", len(loaded))
	return loaded, idx
}

func parseConcurrency(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 64
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return 64
	}
	return n
}
