package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"feedrelay/internal/config"
	"feedrelay/internal/core"
	"feedrelay/internal/fetcher"
	"feedrelay/internal/log"
	"feedrelay/internal/model"
	"feedrelay/internal/server"
	"feedrelay/internal/store"
)

const fetchInterval = 2 * time.Second
const fetchBatchSize = 100

func main() {
	logger := log.NewLogger()
	cfg, err := config.Load()
	if err != nil {
		logger.Errorw("failed to load config", "error", err)
		os.Exit(64)
	}

	strg, err := store.NewStore(cfg.DatabaseURLs, logger)
	if err != nil {
		logger.Errorw("failed to initialize store", "error", err)
		os.Exit(70)
	}

	fetch, err := fetcher.New(fetcher.Config{
		BaseURL:       cfg.FetcherBaseURL,
		RedisAddr:     firstOr(cfg.RedisAddrs, ""),
		RedisPassword: cfg.RedisPassword,
	}, logger)
	if err != nil {
		logger.Errorw("failed to initialize fetcher", "error", err)
		os.Exit(65)
	}
	defer func() { _ = fetch.Close() }()

	c := core.New(cfg, strg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c.Start(ctx)
	go strg.Monitor(ctx, 30*time.Second)
	go runFetchLoop(ctx, fetch, c, logger)

	go func() {
		if err := c.MetricsSink().Serve(ctx, cfg.MetricsAddr); err != nil {
			logger.Errorw("metrics server exited with error", "error", err)
		}
	}()

	r := chi.NewRouter()
	server.SetupRouter(r, cfg.JWTSecret, c, strg.DLQ(), logger)
	adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: r}

	go func() {
		logger.Infow("admin server starting", "addr", cfg.AdminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("admin server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DrainSLA)
	defer shutdownCancel()

	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("admin server shutdown failed", "error", err)
	}

	report := c.Shutdown(shutdownCtx)
	if report.TimedOut {
		logger.Errorw("shutdown drain deadline exceeded", "remaining", report.Remaining)
		os.Exit(70)
	}
	logger.Info("shutdown complete")
}

// runFetchLoop pulls new items on a fixed interval and admits each into
// the core queue, logging and continuing on either a fetch error or an
// admission rejection since neither warrants stopping the pipeline.
func runFetchLoop(ctx context.Context, f *fetcher.Fetcher, c *core.Core, logger *log.Logger) {
	ticker := time.NewTicker(fetchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			items, err := f.Pull(ctx, fetchBatchSize)
			if err != nil {
				logger.Warnw("fetch pull failed", "error", err)
				continue
			}
			for _, item := range items {
				result := c.Enqueue(withDefaults(item))
				if !result.IsAdmitted() {
					logger.Infow("item rejected at admission", "item_id", item.ID, "reason", result.Reason)
				}
			}
		}
	}
}

func withDefaults(item model.Item) model.Item {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	return item
}

func firstOr(s []string, def string) string {
	if len(s) == 0 {
		return def
	}
	return s[0]
}
