package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/api"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/auth"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/config"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector/catalog"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
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
	registry := catalog.NewRegistry(connector.Deps{Logger: logger})
	service := domain.NewService(repo, repo, registry, cfg.SourceInitialBackfill)

	handler := api.NewHandler(service)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	requestLogger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("elapsed", time.Since(start)))
		})
	}

	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		auth.PublicPaths("/healthz", "/metrics"),
	)

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress),
		requestLogger(authMiddleware.Wrap(mux)), logger.Named("api"))
	if err := server.Serve(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
