package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contest-engine/internal/config"
	"contest-engine/internal/domain"
	"contest-engine/internal/engine"
	"contest-engine/internal/milestone"
	"contest-engine/internal/observability"
	"contest-engine/internal/reconcile"
	"contest-engine/internal/storage"
	"contest-engine/internal/storage/memory"
	"contest-engine/internal/storage/migrations"
	pgstore "contest-engine/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	listenAddr := flag.String("listen-addr", ":8080", "Job intake and admin HTTP address")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	maxAttempts := flag.Int("max-attempts", 0, "Attempt ceiling before escalation (overrides config)")
	flag.Parse()

	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lshortfile)

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
	if *maxAttempts <= 0 {
		*maxAttempts = cfg.Worker.MaxAttempts
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

	err := run(ctx, logger, cfg, *postgresDSN, *listenAddr, *useMemory, *maxAttempts)

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

func run(ctx context.Context, logger *log.Logger, cfg *config.Config, postgresDSN, listenAddr string, useMemory bool, maxAttempts int) error {
	if !useMemory && postgresDSN == "" {
		return fmt.Errorf("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	var (
		domainStore    storage.DomainStore    = memory.NewDomainStore()
		milestoneStore storage.MilestoneStore = memory.NewMilestoneStore()
		controlStore   storage.ControlStore   = memory.NewControlStore()
		reportStore    storage.ReportStore    = memory.NewReportStore()
	)
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
		milestoneStore = pgstore.NewMilestoneStore(pool)
		controlStore = pgstore.NewControlStore(pool)
		reportStore = pgstore.NewReportStore(pool)
	}

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)
	eng := engine.New(domainStore)

	queue := newLoopbackQueue(logger)

	milestoneProc := milestone.NewProcessor(milestone.Options{
		Store:       milestoneStore,
		Controls:    controlStore,
		Queue:       queue,
		MaxAttempts: maxAttempts,
		Metrics:     metrics,
		Logger:      logger,
	})
	registerMilestoneHandlers(milestoneProc, eng)

	reconcileProc := reconcile.NewProcessor(reconcile.Options{
		Store:         reportStore,
		Notifier:      newLogNotifier(logger),
		NotifyEnabled: cfg.Worker.NotifyEnabled,
		MaxAttempts:   maxAttempts,
		Metrics:       metrics,
		Logger:        logger,
	})

	go queue.drain(ctx, milestoneProc)

	srv := &server{
		engine:    eng,
		milestone: milestoneProc,
		reconcile: reconcileProc,
		logger:    logger,
	}

	httpSrv := &http.Server{Addr: listenAddr, Handler: srv.routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Printf("Worker listening on %s", listenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return ctx.Err()
}

// registerMilestoneHandlers binds each milestone name to the write action it
// performs. Handlers re-encode the job payload as the action payload; the
// write engine does all validation and idempotency work.
func registerMilestoneHandlers(p *milestone.Processor, eng *engine.Engine) {
	bind := func(name, action string) {
		p.Register(name, func(ctx context.Context, job milestone.Job) error {
			raw, err := json.Marshal(job.Payload)
			if err != nil {
				return fmt.Errorf("encode payload for %s: %w", name, err)
			}
			_, err = eng.Apply(ctx, engine.Request{Action: action, Payload: raw})
			return err
		})
	}

	bind("contest_tracked", engine.ActionTrack)
	bind("participation_registered", engine.ActionRegisterParticipation)
	bind("leaders_version_written", engine.ActionWriteLeadersVersion)
	bind("contest_sealed", engine.ActionSeal)
	bind("reward_claimed", engine.ActionAppendRewardClaim)
	bind("phase_changed", engine.ActionUpdatePhase)
}

// logNotifier is the default notification sink when no external transport is
// configured. Dispatches are logged, never delivered.
type logNotifier struct {
	logger *log.Logger
}

func newLogNotifier(logger *log.Logger) *logNotifier {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Dispatch(ctx context.Context, report *domain.ReconciliationReport, targets []string) error {
	n.logger.Printf("report %s: notifying %v (%d differences)", report.ReportID, targets, len(report.Differences))
	return nil
}
