// Shrike - Fraud ring forensics for transaction ledgers.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/shrike/internal/api"
	"github.com/opensource-finance/shrike/internal/bus"
	"github.com/opensource-finance/shrike/internal/cache"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/engine"
	"github.com/opensource-finance/shrike/internal/graphstore"
	"github.com/opensource-finance/shrike/internal/notify"
	"github.com/opensource-finance/shrike/internal/repository"
	"github.com/opensource-finance/shrike/internal/triage"
	"github.com/opensource-finance/shrike/internal/worker"
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
	if os.Getenv("SHRIKE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting shrike",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("SHRIKE_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"graphstore", cfg.Graphstore.Type,
		"notifier", cfg.Notifier.Type,
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

	// Initialize Analysis Engine
	analysisEngine := engine.New(engine.Options{
		MaxCycleLength: cfg.Engine.MaxCycleLength,
	})
	slog.Info("analysis engine initialized", "max_cycle_length", cfg.Engine.MaxCycleLength)

	// Initialize Triage Engine with built-in policies plus any stored ones
	policies, err := triage.NewEngine()
	if err != nil {
		slog.Error("failed to initialize triage engine", "error", err)
		os.Exit(1)
	}
	defer policies.Close()

	if err := policies.LoadPolicies(triage.Builtin()); err != nil {
		slog.Error("failed to load built-in policies", "error", err)
		os.Exit(1)
	}
	if err := loadPoliciesFromDatabase(ctx, repo, policies); err != nil {
		slog.Error("failed to load policies", "error", err)
		os.Exit(1)
	}
	slog.Info("triage engine initialized", "policies_count", policies.PoliciesCount())

	// Initialize Graph Exporter (optional)
	var exporter *graphstore.Exporter
	if cfg.Graphstore.Type != "" && cfg.Graphstore.Type != "none" {
		graphClient, err := graphstore.New(ctx, cfg.Graphstore)
		if err != nil {
			slog.Error("failed to initialize graph store", "error", err)
			os.Exit(1)
		}
		defer graphClient.Close(context.Background())
		exporter = graphstore.NewExporter(graphClient)
		slog.Info("graph exporter initialized", "type", cfg.Graphstore.Type)
	}

	// Initialize Notifier
	notifier, err := notify.New(cfg.Notifier)
	if err != nil {
		slog.Error("failed to initialize notifier", "error", err)
		os.Exit(1)
	}
	slog.Info("notifier initialized", "type", cfg.Notifier.Type)

	// Initialize the shared processing pipeline
	processor := worker.NewProcessor(analysisEngine, policies, repo, cacheImpl, busImpl, exporter, notifier)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("SHRIKE_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, processor)

		// Get tenant IDs to process (from environment or default)
		tenantIDs := []string{}
		if envTenants := os.Getenv("SHRIKE_TENANTS"); envTenants != "" {
			for _, tenant := range strings.Split(envTenants, ",") {
				if tenant = strings.TrimSpace(tenant); tenant != "" {
					tenantIDs = append(tenantIDs, tenant)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize websocket Hub
	hub := api.NewHub(busImpl)
	go hub.Run()

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, processor, policies, hub, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("shrike is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	hub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("shrike shutdown complete")
}

// applyEnvOverrides layers environment settings over the tier defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("SHRIKE_GRAPHSTORE"); v != "" {
		cfg.Graphstore.Type = v
	}
	if v := os.Getenv("SHRIKE_NEO4J_URI"); v != "" {
		cfg.Graphstore.URI = v
	}
	if v := os.Getenv("SHRIKE_NEO4J_USER"); v != "" {
		cfg.Graphstore.Username = v
	}
	if v := os.Getenv("SHRIKE_NEO4J_PASSWORD"); v != "" {
		cfg.Graphstore.Password = v
	}

	token := os.Getenv("SHRIKE_TELEGRAM_TOKEN")
	chatID := os.Getenv("SHRIKE_TELEGRAM_CHAT")
	if token != "" && chatID != "" {
		cfg.Notifier.Type = "telegram"
		cfg.Notifier.TelegramToken = token
		cfg.Notifier.TelegramChatID = chatID
	}
}

// GlobalTenantID is used for policies that apply to all tenants.
const GlobalTenantID = "*"

// loadPoliciesFromDatabase layers stored triage policies over the built-ins.
func loadPoliciesFromDatabase(ctx context.Context, repo domain.Repository, policies *triage.Engine) error {
	stored, err := repo.ListPolicies(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list policies from database", "error", err)
		return nil // Start with built-ins only - more can be added via API
	}

	if len(stored) > 0 {
		slog.Info("loading policies from database", "count", len(stored))
		return policies.LoadPolicies(stored)
	}

	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🐦 SHRIKE                   ║")
	fmt.Println("  ║       Fraud Ring Forensics Engine          ║")
	fmt.Println("  ║      Pins down the money trail.            ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /v1/ledger/analyze     - Analyze a ledger synchronously")
	fmt.Println("    POST /v1/ledger/submit      - Queue a ledger for async analysis")
	fmt.Println("    GET  /v1/analysis/latest    - Latest analysis run")
	fmt.Println("    GET  /v1/analysis/{runID}   - Get analysis run by ID")
	fmt.Println("    GET  /v1/runs               - List analysis runs")
	fmt.Println("    GET  /v1/rings              - Fraud rings in the latest run")
	fmt.Println("    GET  /v1/rings/{ringID}     - Get fraud ring by ID")
	fmt.Println("    GET  /v1/accounts/{id}      - Account analysis + neighbors")
	fmt.Println("    GET  /v1/report/hash        - Report hash of the latest run")
	fmt.Println("    GET  /v1/policies           - List triage policies")
	fmt.Println("    POST /v1/policies           - Create a triage policy")
	fmt.Println("    DELETE /v1/policies/{id}    - Delete a triage policy")
	fmt.Println("    GET  /v1/stream             - Live alert websocket stream")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
