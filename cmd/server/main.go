package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/clinigraph/internal/api"
	"github.com/gyaneshwarpardhi/clinigraph/internal/config"
	"github.com/gyaneshwarpardhi/clinigraph/internal/engine"
	"github.com/gyaneshwarpardhi/clinigraph/internal/graphstore"
	"github.com/gyaneshwarpardhi/clinigraph/internal/handler"
	"github.com/gyaneshwarpardhi/clinigraph/internal/metrics"
	"github.com/gyaneshwarpardhi/clinigraph/internal/stats"
	"github.com/gyaneshwarpardhi/clinigraph/internal/telemetry"
	"github.com/gyaneshwarpardhi/clinigraph/internal/transport"
)

func main() {
	cfgPath := flag.String("config", "configs/clinigraph.yaml", "Path to YAML config (empty for defaults + env)")
	envFile := flag.String("env-file", ".env", "Optional dotenv file")
	flag.Parse()

	// ── Environment + config ─────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("failed to load env file", "file", *envFile, "err", err)
		os.Exit(1)
	}
	if *cfgPath != "" {
		if _, err := os.Stat(*cfgPath); err != nil {
			slog.Warn("config file not found, using defaults", "path", *cfgPath)
			*cfgPath = ""
		}
	}
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	var level slog.LevelVar
	lvl, _ := config.ParseLevel(cfg.Log.Level)
	level.Set(lvl)
	logger := newLogger(cfg.Log.Format, &level)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Telemetry ────────────────────────────────────────────────────────────
	tracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "err", err)
		os.Exit(1)
	}

	// ── Graph store ──────────────────────────────────────────────────────────
	store, err := openStore(ctx, cfg.Neo4j)
	if err != nil {
		slog.Error("graph store unavailable", "uri", cfg.Neo4j.URI, "err", err)
		os.Exit(1)
	}
	slog.Info("graph store ready", "uri", cfg.Neo4j.URI, "database", cfg.Neo4j.Database)

	// ── Router + dispatcher ──────────────────────────────────────────────────
	router := handler.NewRouter(store, handler.DefaultRegistry(), cfg.Ingest.RelationshipPolicy, logger)
	disp := engine.New(ctx, router, metrics.NewIngestRecorder(), cfg.Ingest, cfg.Neo4j.WriteTimeout(), logger)
	slog.Info("dispatcher started",
		"workers", cfg.Ingest.DispatchWorkers,
		"queue_depth", cfg.Ingest.QueueDepth,
		"relationship_policy", router.Policy(),
	)

	// ── Pull consumer ────────────────────────────────────────────────────────
	var (
		natsClient *transport.Client
		consumer   *transport.Consumer
	)
	if cfg.NATS.Enabled {
		natsClient, err = transport.Connect(ctx, cfg.NATS, "clinigraph-ingest", logger)
		if err != nil {
			slog.Error("nats unavailable", "err", err)
			os.Exit(1)
		}
		consumer = transport.NewConsumer(natsClient, disp, logger)
		if err := consumer.Start(ctx); err != nil {
			slog.Error("pull consumer failed to start", "err", err)
			os.Exit(1)
		}
	}

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if l, err := config.ParseLevel(newCfg.Log.Level); err == nil {
			level.Set(l)
		}
		disp.SetTimeout(newCfg.Ingest.DispatchTimeout())
		router.SetPolicy(newCfg.Ingest.RelationshipPolicy)
		slog.Info("config hot-reloaded",
			"log_level", newCfg.Log.Level,
			"dispatch_timeout_ms", newCfg.Ingest.DispatchTimeoutMs,
			"relationship_policy", router.Policy(),
		)
	})
	if stopWatch, err := loader.Watch(); err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.New(disp, stats.NewAggregator(store, logger), store),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Ingest.DispatchTimeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	if consumer != nil {
		consumer.Stop()
	}
	// Queued and in-flight writes finish before the store goes away.
	disp.Shutdown()
	if natsClient != nil {
		_ = natsClient.Close()
	}
	cancel()
	if err := store.Close(shutCtx); err != nil {
		slog.Warn("graph store close failed", "err", err)
	}
	_ = tracing.Shutdown(shutCtx)
	slog.Info("goodbye")
}

func newLogger(format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openStore(ctx context.Context, conf config.Neo4jConf) (graphstore.Store, error) {
	if conf.URI == config.MemoryURI {
		return graphstore.NewMemStore(), nil
	}
	return graphstore.NewNeo4jStore(ctx, conf)
}
