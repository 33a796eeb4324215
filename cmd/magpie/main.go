// Magpie - Loyalty rewards that deploy in 60 seconds.
// Copyright (c) 2025 opensource.loyalty
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opensource-loyalty/magpie/internal/activity"
	"github.com/opensource-loyalty/magpie/internal/api"
	"github.com/opensource-loyalty/magpie/internal/bus"
	"github.com/opensource-loyalty/magpie/internal/cache"
	"github.com/opensource-loyalty/magpie/internal/domain"
	"github.com/opensource-loyalty/magpie/internal/events"
	"github.com/opensource-loyalty/magpie/internal/ledger"
	"github.com/opensource-loyalty/magpie/internal/repository"
	"github.com/opensource-loyalty/magpie/internal/reward"
	"github.com/opensource-loyalty/magpie/internal/rules"
	"github.com/opensource-loyalty/magpie/internal/sweep"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("MAGPIE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting magpie",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("MAGPIE_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Seed the default rule set on first start
	if err := rules.Seed(ctx, repo, logger); err != nil {
		slog.Error("failed to seed rules", "error", err)
		os.Exit(1)
	}

	// Compile expression rules into the shared session template
	compiler, err := rules.NewCompiler(repo)
	if err != nil {
		slog.Error("failed to initialize rule compiler", "error", err)
		os.Exit(1)
	}
	if err := compiler.Rebuild(ctx); err != nil {
		slog.Error("failed to compile rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule session compiled", "rules_count", compiler.RuleCount())

	evaluator := rules.NewEvaluator(repo, compiler, repo, logger)

	// Activity summaries back both rule evaluation and tier re-evaluation
	activitySvc := activity.New(repo, cacheImpl, logger)

	// Reward pipeline: transaction.created -> facts -> rules -> points.earned
	facts := reward.NewFactBuilder(repo, cacheImpl, activitySvc, logger)
	aggregator := reward.NewAggregator(busImpl, facts, evaluator, logger)
	if err := aggregator.Start(ctx); err != nil {
		slog.Error("failed to start reward aggregator", "error", err)
		os.Exit(1)
	}
	defer aggregator.Stop()

	// Ledger: points.earned -> balance credit
	ledgerSvc := ledger.New(repo, cacheImpl, busImpl, logger)
	if err := ledgerSvc.Start(ctx); err != nil {
		slog.Error("failed to start ledger", "error", err)
		os.Exit(1)
	}
	defer ledgerSvc.Stop()

	// Occurrence consumer: event.occurrence -> EVENT rules -> points.earned
	consumer := events.NewConsumer(busImpl, repo, logger)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("failed to start occurrence consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Stop()

	notifier := events.NewNotifier(busImpl, logger)
	if err := notifier.Start(ctx); err != nil {
		slog.Error("failed to start notifier", "error", err)
		os.Exit(1)
	}
	defer notifier.Stop()

	// Scheduled sweeps: nightly expiration, monthly tier evaluation
	expiration := sweep.NewExpirationSweep(repo, cacheImpl, logger)
	tierSweep := sweep.NewTierSweep(repo, activitySvc, logger)
	scheduler := sweep.NewScheduler(expiration, tierSweep, cfg.Sweep, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, compiler, ledgerSvc, activitySvc, expiration, tierSweep, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("magpie is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("magpie shutdown complete")
}

// applyEnvOverrides layers environment settings over the tier defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("MAGPIE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MAGPIE_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("MAGPIE_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("MAGPIE_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("MAGPIE_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("MAGPIE_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  Magpie - Loyalty Rewards Engine")
	fmt.Println("  Every point accounted for.")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions             - Record a transaction")
	fmt.Println("    POST /members                  - Enroll a member")
	fmt.Println("    GET  /members/{id}/balance     - Point balance and tier")
	fmt.Println("    POST /members/{id}/reset       - Reset to welcome state")
	fmt.Println("    GET  /rules                    - List all rules")
	fmt.Println("    POST /rules                    - Create a new rule")
	fmt.Println("    POST /rules/reload             - Hot-reload rules from database")
	fmt.Println("    GET  /tiers/thresholds         - Re-tiering ladder")
	fmt.Println("    POST /admin/expire-points      - Run expiration sweep now")
	fmt.Println("    POST /admin/evaluate-tiers     - Run tier evaluation now")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
