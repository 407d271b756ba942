package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contest-engine/internal/config"
	"contest-engine/internal/engine"
	"contest-engine/internal/lifecycle"
	"contest-engine/internal/observability"
	"contest-engine/internal/storage"
	"contest-engine/internal/storage/memory"
	"contest-engine/internal/storage/migrations"
	pgstore "contest-engine/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	gatewayURL := flag.String("gateway-url", "", "Chain gateway base URL")
	interval := flag.Duration("interval", 0, "Polling interval (overrides config)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.Parse()

	logger := log.New(os.Stdout, "[lifecycle] ", log.LstdFlags|log.Lshortfile)

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatalf("Load config: %v", err)
		}
		cfg = loaded
	}
	if *postgresDSN == "" {
		*postgresDSN = cfg.Postgres.DSN
	}
	if *interval <= 0 {
		*interval = cfg.Lifecycle.Interval
	}
	if *interval <= 0 {
		*interval = time.Minute
	}

	if *gatewayURL == "" {
		logger.Fatal("--gateway-url is required")
	}

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err := run(ctx, logger, cfg, *postgresDSN, *gatewayURL, *interval, *useMemory, metrics)

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

func run(ctx context.Context, logger *log.Logger, cfg *config.Config, postgresDSN, gatewayURL string, interval time.Duration, useMemory bool, metrics *observability.Metrics) error {
	if !useMemory && postgresDSN == "" {
		return fmt.Errorf("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	var domainStore storage.DomainStore = memory.NewDomainStore()
	if !useMemory {
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		domainStore = pgstore.NewDomainStore(pool)
	}

	eng := engine.New(domainStore)

	var gatewayOpts []lifecycle.GatewayOption
	if cfg.Lifecycle.CallTimeout > 0 {
		gatewayOpts = append(gatewayOpts, lifecycle.WithGatewayTimeout(cfg.Lifecycle.CallTimeout))
	}
	chain := lifecycle.NewGatewayClient(gatewayURL, gatewayOpts...)

	orch := lifecycle.New(lifecycle.Options{
		Chain:       chain,
		Registry:    lifecycle.NewStoreRegistry(domainStore),
		Engine:      eng,
		Interval:    interval,
		CallTimeout: cfg.Lifecycle.CallTimeout,
		TopK:        cfg.Lifecycle.TopK,
		Metrics:     metrics,
		Logger:      logger,
	})

	logger.Printf("Starting lifecycle orchestrator (interval %s, gateway %s)", interval, gatewayURL)
	orch.Run(ctx)
	return ctx.Err()
}
