package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/whatsapp-relay/internal/api"
	"github.com/LeventeLantos/whatsapp-relay/internal/bootstrap"
	"github.com/LeventeLantos/whatsapp-relay/internal/cache"
	"github.com/LeventeLantos/whatsapp-relay/internal/config"
	"github.com/LeventeLantos/whatsapp-relay/internal/db"
	"github.com/LeventeLantos/whatsapp-relay/internal/logging"
	"github.com/LeventeLantos/whatsapp-relay/internal/notify"
	"github.com/LeventeLantos/whatsapp-relay/internal/relay"
	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
	"github.com/LeventeLantos/whatsapp-relay/internal/scheduler"
	"github.com/LeventeLantos/whatsapp-relay/internal/session"
	"github.com/LeventeLantos/whatsapp-relay/internal/transport/wa"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("relay stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Open(ctx, cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, sqlDB); err != nil {
			return err
		}
	}

	bots := repo.NewPostgresBotRepo(sqlDB)
	factory := wa.NewFactory(cfg.Sessions.Dir, logger, cfg.Log.WhatsApp)

	manager := session.NewManager(factory).WithRepository(bots)
	if cfg.Notify.URL != "" {
		manager.WithNotifier(notify.NewWebhookNotifier(cfg.Notify.URL, cfg.Notify.Timeout))
	}

	engine := relay.NewEngine(manager, bots)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, relay dedup disabled", "addr", cfg.Redis.Address, "err", err)
		} else {
			engine.WithCache(cache.NewRedisCache(rdb, cfg.Redis.TTL))
		}
	}
	manager.OnMessage(engine.HandleMessage)

	bootstrap.New(bots, manager).Run(ctx)

	syncJob, err := scheduler.New("activity-sync", cfg.Sync.Interval, func(ctx context.Context) error {
		n := manager.SyncActivity(ctx)
		slog.Debug("activity synced", "bots", n)
		return nil
	})
	if err != nil {
		return err
	}
	syncJob.Start()
	defer syncJob.Stop()

	h := api.NewHandler(manager, engine).
		WithDistributionGroups(bots).
		WithJobs(syncJob)

	// No WriteTimeout: broadcasts with delays can run for minutes.
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.Server.Address, "bots", manager.Count())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		manager.Shutdown()
		return err
	})

	return g.Wait()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
