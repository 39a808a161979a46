package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	goredis "github.com/redis/go-redis/v9"
	sdk "go.opentelemetry.io/otel"
	"go.uber.org/automaxprocs/maxprocs"

	appsweep "github.com/devsweep/devsweep/internal/app/sweep"
	"github.com/devsweep/devsweep/internal/config/fileloader"
	domain "github.com/devsweep/devsweep/internal/domain/sweep"
	"github.com/devsweep/devsweep/internal/infra/directory/rest"
	"github.com/devsweep/devsweep/internal/infra/itemsource"
	cronsched "github.com/devsweep/devsweep/internal/infra/scheduler/cron"
	kafkasink "github.com/devsweep/devsweep/internal/infra/sink/kafka"
	loggersink "github.com/devsweep/devsweep/internal/infra/sink/logger"
	cacheredis "github.com/devsweep/devsweep/internal/infra/storage/cache/redis"
	sweepmem "github.com/devsweep/devsweep/internal/infra/storage/sweep/memory"
	sweeppg "github.com/devsweep/devsweep/internal/infra/storage/sweep/postgres"
	"github.com/devsweep/devsweep/pkg/common"
	"github.com/devsweep/devsweep/pkg/common/logger"
	"github.com/devsweep/devsweep/pkg/common/otel"
)

const serviceType = "sweepd"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("SWEEPD-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	logg := logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, logg, sigCh); err != nil {
		logg.Error(ctx, "sweepd terminated", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, sigCh chan os.Signal) error {
	prob := 1.0
	if v := os.Getenv("OTEL_SAMPLING_RATIO"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("failed to parse OTEL_SAMPLING_RATIO: %w", err)
		}
		prob = p
	}

	tp, telemetryTeardown, err := otel.InitTelemetry(logg, otel.Config{
		ServiceName:      serviceType,
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Probability:      prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
		},
		InsecureExporter: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(serviceType)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := fileloader.NewFileLoader(configPath).Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	metrics, err := appsweep.NewSweepMetrics(sdk.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	// Run-record store: postgres when configured, in-memory otherwise.
	var runRepo domain.RunRepository
	if dsn := cfg.Postgres.DSN; dsn != "" {
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return fmt.Errorf("failed to parse postgres config: %w", err)
		}
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := runMigrations(pool); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		runRepo = sweeppg.NewRunStore(pool, tracer)
	} else {
		logg.Warn(ctx, "No postgres DSN configured, run records will not survive restarts")
		runRepo = sweepmem.NewRunStore()
	}

	// Scan-cache store: redis when configured, in-memory otherwise.
	var cacheRepo domain.ScanCacheRepository
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		cacheRepo = cacheredis.NewScanCacheStore(client, tracer)
	} else {
		cacheRepo = sweepmem.NewScanCacheStore()
	}

	// Result sink: kafka when configured, structured log otherwise.
	var sink domain.ResultSink
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := kafkasink.NewSink(kafkasink.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, tracer)
		if err != nil {
			return fmt.Errorf("failed to create kafka sink: %w", err)
		}
		defer ks.Close()
		sink = ks
	} else {
		sink = loggersink.NewSink(logg)
	}

	var enumerator domain.ItemEnumerator
	switch {
	case len(cfg.Items.Addresses) > 0:
		enumerator = itemsource.NewStaticEnumerator(cfg.Items.Addresses)
	case cfg.Items.File != "":
		enumerator = itemsource.NewFileEnumerator(cfg.Items.File)
	default:
		return fmt.Errorf("no item source configured")
	}

	directoryClient := rest.NewClient(rest.Config{
		BaseURL:           cfg.Directory.BaseURL,
		Token:             cfg.Directory.Token,
		RequestsPerSecond: cfg.Directory.RequestsPerSecond,
		Burst:             cfg.Directory.Burst,
	}, tracer)

	retrier := appsweep.NewRetrier(cfg.Sweep.MaxAttempts, cfg.Sweep.BaseRetryDelay)
	processor := appsweep.NewShardProcessor(directoryClient, retrier, logg, tracer, metrics)

	timeProvider := domain.RealTimeProvider()
	cache := appsweep.NewScanCache(cacheRepo, cfg.Sweep.CacheTTL, timeProvider, logg, tracer)

	scheduler := cronsched.NewScheduler(logg, tracer)

	engines := make(map[domain.RunKind]*appsweep.Engine, 2)
	for _, kind := range []domain.RunKind{domain.RunKindAudit, domain.RunKindPurge} {
		engine := appsweep.NewEngine(
			appsweep.Config{
				Kind:                  kind,
				Concurrency:           cfg.Sweep.Concurrency,
				CacheTTL:              cfg.Sweep.CacheTTL,
				SafetyBudget:          cfg.Sweep.SafetyBudget,
				ContinuationDelay:     cfg.Sweep.ContinuationDelay,
				CheckpointEveryShards: cfg.Sweep.CheckpointEveryShards,
				MaxAttempts:           cfg.Sweep.MaxAttempts,
				BaseRetryDelay:        cfg.Sweep.BaseRetryDelay,
			},
			runRepo, enumerator, processor, cache, scheduler, sink,
			timeProvider, logg, tracer, metrics,
		)
		engines[kind] = engine
		scheduler.Register(appsweep.EntryPoint(kind), engine.Run)
	}

	scheduler.Start()
	defer scheduler.Stop()

	kind, err := selectedRunKind()
	if err != nil {
		return err
	}

	if reset := os.Getenv("SWEEP_RESET"); reset != "" {
		full := reset == "full"
		if err := engines[kind].Reset(ctx, full); err != nil {
			return fmt.Errorf("failed to reset run: %w", err)
		}
		logg.Info(ctx, "Reset complete", "run_kind", kind.String(), "full", full)
		return nil
	}

	ready := &atomic.Bool{}
	debugMux, err := common.NewDebugMux(ready)
	if err != nil {
		return fmt.Errorf("failed to build debug mux: %w", err)
	}
	debugMux.HandleFunc("/v1/status", statusHandler(engines))

	debugAddr := os.Getenv("DEBUG_ADDR")
	if debugAddr == "" {
		debugAddr = ":6060"
	}
	debugServer := &http.Server{Addr: debugAddr, Handler: debugMux}
	go func() {
		if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "debug server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = debugServer.Shutdown(shutdownCtx)
	}()

	ready.Store(true)

	// First invocation; continuations take over when the budget pauses it.
	errCh := make(chan error, 1)
	go func() { errCh <- engines[kind].Run(ctx) }()

	logg.Info(ctx, "sweepd started", "run_kind", kind.String(), "debug_addr", debugAddr)

	for {
		select {
		case sig := <-sigCh:
			logg.Info(ctx, "Shutting down", "signal", sig.String())
			return nil
		case err := <-errCh:
			if err != nil {
				// The persisted checkpoint is the recovery point; the next
				// invocation resumes from it.
				logg.Error(ctx, "invocation failed", "run_kind", kind.String(), "error", err)
			}
			// Keep serving: a paused run re-enters via the scheduler.
		}
	}
}

func selectedRunKind() (domain.RunKind, error) {
	v := os.Getenv("SWEEP_RUN_KIND")
	if v == "" {
		return domain.RunKindAudit, nil
	}
	kind := domain.RunKind(strings.ToUpper(v))
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid SWEEP_RUN_KIND %q", v)
	}
	return kind, nil
}

func statusHandler(engines map[domain.RunKind]*appsweep.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := make(map[string]*domain.Status, len(engines))
		for kind, engine := range engines {
			status, err := engine.Status(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			statuses[kind.String()] = status
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statuses)
	}
}

func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}

	migrations, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := migrations.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
