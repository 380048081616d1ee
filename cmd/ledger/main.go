package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/wa-ledger/internal/api"
	"github.com/LeventeLantos/wa-ledger/internal/cache"
	"github.com/LeventeLantos/wa-ledger/internal/client"
	"github.com/LeventeLantos/wa-ledger/internal/config"
	"github.com/LeventeLantos/wa-ledger/internal/database"
	"github.com/LeventeLantos/wa-ledger/internal/logger"
	"github.com/LeventeLantos/wa-ledger/internal/repo"
	"github.com/LeventeLantos/wa-ledger/internal/scheduler"
	"github.com/LeventeLantos/wa-ledger/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("wa-ledger stopped", "error", err)
		os.Exit(1)
	}
	log.Info("wa-ledger stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	ledger := repo.NewPostgresLedgerRepo(pool, cfg.Database.Table)
	writer := service.NewWriter(ledger, cfg.Ledger.Upsert(), log)

	var replay *scheduler.Scheduler
	if cfg.Ledger.Buffering() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		writer.WithBuffer(cache.NewRedisPatchBuffer(rdb, cfg.Redis.TTL))

		replay, err = scheduler.New("patch-replay", cfg.Ledger.ReplayInterval, func(ctx context.Context) error {
			stats, err := writer.ReplayPending(ctx)
			if stats.Pending > 0 {
				log.Info("replayed buffered patches",
					"pending", stats.Pending, "applied", stats.Applied, "failed", stats.Failed)
			}
			return err
		}, log)
		if err != nil {
			return err
		}
	}

	cloud := client.NewCloudAPIClient(cfg.WhatsApp.BaseURL, cfg.WhatsApp.APIVersion, cfg.WhatsApp.Timeout)

	handler := api.NewHandler(api.Options{
		Ingestor:    service.NewIngestor(writer, log).KeepMixedMessages(cfg.Webhook.KeepMixedMessages()),
		Dispatcher:  service.NewDispatcher(cloud, writer, service.NewValidator(), log),
		Ledger:      ledger,
		Replay:      replay,
		VerifyToken: cfg.Webhook.VerifyToken,
		AppSecret:   cfg.Webhook.AppSecret,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(log)(api.Router(handler)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.WhatsApp.Timeout + 15*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("wa-ledger starting",
			"addr", cfg.Server.Address,
			"table", cfg.Database.Table,
			"insert_policy", cfg.Ledger.InsertPolicy,
			"patch_policy", cfg.Ledger.PatchPolicy,
			"signature_check", cfg.Webhook.AppSecret != "",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		if replay != nil {
			replay.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if replay != nil {
		replay.Start()
	}

	return g.Wait()
}

func loggingMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
