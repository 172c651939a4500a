// Command server runs the download orchestrator's HTTP API and worker
// pool in a single process. Redis connectivity is verified before the
// server accepts traffic; SIGINT/SIGTERM drain the HTTP server and the
// worker pool before exit.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clipreach/downorch/internal/config"
	"github.com/clipreach/downorch/internal/delivery"
	"github.com/clipreach/downorch/internal/httpapi"
	"github.com/clipreach/downorch/internal/kvstore"
	"github.com/clipreach/downorch/internal/logger"
	"github.com/clipreach/downorch/internal/mediapipeline"
	"github.com/clipreach/downorch/internal/orchestrator"
	"github.com/clipreach/downorch/internal/provider"
	"github.com/clipreach/downorch/internal/storage"
	"github.com/clipreach/downorch/internal/worker"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	gw := kvstore.New(rdb, cfg.KeyPrefix)

	db, err := storage.New(cfg.DownloadRoot)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to open audit log database")
	}
	defer db.Close()
	audit := storage.NewAuditLog(db)

	pipeline := mediapipeline.New(cfg.FFmpegPath)
	registry := provider.NewDefaultRegistry(provider.Deps{
		HTTPClient:     provider.DefaultHTTPClient(),
		Pipeline:       pipeline,
		VKSessionToken: cfg.VKSessionToken,
		InstagramSID:   cfg.InstagramSessionID,
	})

	orch := orchestrator.New(gw, registry, audit, cfg.LockTTL, cfg.MetaCacheTTL, cfg.HistoryLimit)

	if err := orch.RecoverOnStartup(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("restart recovery encountered an error")
	}

	pool := worker.New(gw, registry, audit, cfg.DownloadRoot, 5*time.Second, cfg.JobTimeout)
	pool.Start(ctx, cfg.WorkerCount)

	streamer := delivery.New(gw, audit)
	api := httpapi.New(orch, streamer, gw)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.Router(api, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info().Str("addr", cfg.HTTPAddr).Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Log.Info().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("http server shutdown error")
	}

	pool.Stop()
	logger.Log.Info().Msg("server stopped")
}
