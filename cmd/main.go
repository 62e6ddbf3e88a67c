// listing-pipeline
//
// Keeps a brokerage's MLS listings fresh and its clients' recommendation
// queues topped up. Exposes a small REST API used by the agent dashboard:
//   - POST /sync       fetch, normalize and upsert every live feed
//   - POST /recommend  score listings for a client and queue the best new ones
//
// An optional cron schedule (SYNC_SCHEDULE) runs the sync for every brokerage.
// Publishes EVENT_LISTINGS_SYNCED and EVENT_RECOMMENDATIONS_CREATED to Redis
// for Gateway SSE forward.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hayvn/listing-pipeline/internal/auth"
	"hayvn/listing-pipeline/internal/config"
	"hayvn/listing-pipeline/internal/db"
	"hayvn/listing-pipeline/internal/events"
	"hayvn/listing-pipeline/internal/grpcserver"
	"hayvn/listing-pipeline/internal/httpapi"
	"hayvn/listing-pipeline/internal/ingest"
	"hayvn/listing-pipeline/internal/logging"
	"hayvn/listing-pipeline/internal/match"
	"hayvn/listing-pipeline/internal/scheduler"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[listing-pipeline] Config error: %v", err)
	}
	logger := logging.New(cfg.LogLevel).With("service", "listing-pipeline")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, "listing-pipeline")
	if err != nil {
		log.Fatalf("[listing-pipeline] PostgreSQL: %v", err)
	}
	defer pool.Close()
	logger.Info("postgres connected")

	// ── Redis ────────────────────────────────────────────────────────────────
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, "listing-pipeline")
	if err != nil {
		log.Fatalf("[listing-pipeline] Redis: %v", err)
	}
	defer rdb.Close()
	logger.Info("redis connected")

	publisher := events.NewRedisPublisher(rdb)

	// ── Engines ──────────────────────────────────────────────────────────────
	ingestStore := ingest.NewPostgresStore(pool)
	syncEngine := ingest.NewEngine(
		ingestStore, ingestStore,
		ingest.NewHTTPFetcher(cfg.Sync, logger.With("component", "fetcher")),
		publisher,
		logger.With("component", "sync"),
	)
	matchEngine := match.NewEngine(
		match.NewPostgresStore(pool),
		cfg.Weights,
		publisher,
		logger.With("component", "match"),
	)
	verifier := auth.NewSessionVerifier(
		auth.NewPostgresSessionStore(pool), rdb, cfg.AuthCacheTTL,
		logger.With("component", "auth"),
	)

	// ── Scheduler ────────────────────────────────────────────────────────────
	sched := scheduler.New(ingestStore, syncEngine, cfg.Sync.Schedule, logger.With("component", "scheduler"))
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[listing-pipeline] Scheduler: %v", err)
	}

	// ── gRPC health ──────────────────────────────────────────────────────────
	var grpcSrv *grpcserver.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
		if err != nil {
			log.Fatalf("[listing-pipeline] gRPC listen: %v", err)
		}
		grpcSrv = grpcserver.New([]grpcserver.Probe{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		}, 15*time.Second, logger.With("component", "grpc"))

		go grpcSrv.Watch(ctx)
		go func() {
			logger.Info("grpc health listening", "port", cfg.GRPCPort)
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("grpc server error", "err", err)
			}
		}()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	httpapi.NewHandler(syncEngine, matchEngine, verifier, cfg.CORSAllowOrigin, version,
		logger.With("component", "http")).RegisterRoutes(mux)

	// A full sync pages through up to SYNC_MAX_PAGES requests per connection.
	writeTimeout := time.Duration(cfg.Sync.MaxPages)*cfg.Sync.HTTPTimeout + 30*time.Second

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	go func() {
		logger.Info("listening", "version", version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[listing-pipeline] HTTP server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	sched.Stop()
	if grpcSrv != nil {
		grpcSrv.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	logger.Info("stopped")
}
