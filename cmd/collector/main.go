package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/collector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/config"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector/catalog"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/identity"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/outbox"
	persistence "github.com/Star-Solution-FZCO/workbench-sub000/internal/persistence/postgres"
	httptransport "github.com/Star-Solution-FZCO/workbench-sub000/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	clock := quartz.NewReal()
	registry := catalog.NewRegistry(connector.Deps{
		Logger:     logger,
		Clock:      clock,
		HTTPClient: &http.Client{Timeout: time.Minute},
	})

	syncer := identity.NewSyncer(repo, repo, repo, registry, logger)
	orchestrator := collector.NewOrchestrator(repo, repo, repo, registry, syncer, collector.Options{
		Lag:         cfg.CollectorLag,
		CallTimeout: cfg.CollectorCallTimeout,
		Clock:       clock,
		Logger:      logger,
	})
	scheduler := collector.NewScheduler(orchestrator, cfg.CollectorSchedule, cfg.CollectorRunOnStart, logger)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)

	schemas := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, schemas, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
		outbox.WithLogger(logger),
		outbox.WithClock(clock),
	)
	go dispatcher.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.MetricsAddress), mux, logger.Named("metrics"))
	metricsDone := make(chan struct{})
	go func() {
		defer close(metricsDone)
		if err := metricsSrv.Serve(ctx); err != nil {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("collector started",
		zap.String("schedule", cfg.CollectorSchedule),
		zap.Duration("lag", cfg.CollectorLag),
		zap.Bool("run_on_start", cfg.CollectorRunOnStart),
	)
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("scheduler stopped", zap.Error(err))
		stop()
	}

	dispatcher.Wait()
	<-metricsDone
	if err := producer.Close(); err != nil {
		logger.Warn("kafka producer close", zap.Error(err))
	}
}
