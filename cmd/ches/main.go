// Command ches runs the email dispatch API and its delivery workers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrymomot/ches/internal/api"
	"github.com/dmitrymomot/ches/internal/ches"
	"github.com/dmitrymomot/ches/internal/config"
	"github.com/dmitrymomot/ches/internal/data"
	"github.com/dmitrymomot/ches/internal/merge"
	"github.com/dmitrymomot/ches/internal/metrics"
	"github.com/dmitrymomot/ches/internal/queue"
	"github.com/dmitrymomot/ches/internal/repository"
	"github.com/dmitrymomot/ches/internal/retention"
	"github.com/dmitrymomot/ches/internal/server"
	"github.com/dmitrymomot/ches/pkg/cache"
	"github.com/dmitrymomot/ches/pkg/db"
	"github.com/dmitrymomot/ches/pkg/health"
	"github.com/dmitrymomot/ches/pkg/job"
	"github.com/dmitrymomot/ches/pkg/logger"
	"github.com/dmitrymomot/ches/pkg/mailer"
	"github.com/dmitrymomot/ches/pkg/mailer/postmark"
	"github.com/dmitrymomot/ches/pkg/mailer/resend"
	"github.com/dmitrymomot/ches/pkg/mailer/smtp"
	"github.com/dmitrymomot/ches/pkg/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.NewWithSentry(cfg.Sentry, logger.ParseLevel(cfg.Log.Level),
		job.LogExtractor,
		api.RequestIDExtractor,
	)
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(ctx, pool, repository.Migrations, repository.MigrationsDir, cfg.Database.MigrationsTable, log); err != nil {
		pool.Close()
		return fmt.Errorf("migrate database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewPrometheus(reg)

	checks := health.Checks{"database": db.Healthcheck(pool)}
	hooks := []func(context.Context) error{}

	var (
		locker redis.Locker = redis.NopLocker{}
		owners cache.Cache[string]
	)
	if cfg.Redis.URL != "" {
		client, err := redis.Open(ctx, cfg.Redis.URL)
		if err != nil {
			pool.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		locker = redis.NewLocker(client, cfg.Redis.KeyPrefix+"lock:")
		owners = cache.NewRedis[string](client, nil, cache.WithPrefix(cfg.Redis.KeyPrefix+"owner:"))
		checks["redis"] = redis.Healthcheck(client)
		hooks = append(hooks, redis.Shutdown(client))
	} else {
		mem := cache.NewMemory[string]()
		owners = mem
		hooks = append(hooks, func(context.Context) error { return mem.Close() })
	}

	sender, provider, err := newSender(cfg, log)
	if err != nil {
		pool.Close()
		return err
	}
	mail := mailer.New(sender, cfg.Mailer)

	store := data.New(repository.NewStore(pool), log)
	dispatch := queue.NewDispatch(store, mail, log,
		queue.WithLocker(locker),
		queue.WithDispatchMetrics(rec),
		queue.WithProvider(provider),
		queue.WithLockTTL(cfg.Queue.LockTTL),
	)

	jobOpts := []job.Option{
		job.WithTask[queue.DispatchPayload](dispatch),
		job.WithLogger(log),
		job.WithMaxWorkers(cfg.Queue.MaxWorkers),
		job.WithBackoff(cfg.Queue.BackoffBase, cfg.Queue.BackoffMax),
		job.WithConnectRetry(cfg.Queue.ConnectAttempts, cfg.Queue.ConnectInterval),
	}
	if cfg.Retention.Age > 0 {
		jobOpts = append(jobOpts, job.WithScheduledTask(
			retention.New(store, log, cfg.Retention.Age, cfg.Retention.Schedule, cfg.Retention.BatchSize),
		))
	}
	manager, err := job.NewManager(pool, jobOpts...)
	if err != nil {
		pool.Close()
		return fmt.Errorf("create job manager: %w", err)
	}
	if err := manager.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("migrate job queue: %w", err)
	}
	if err := manager.Start(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("start job manager: %w", err)
	}
	checks["queue"] = job.Healthcheck(manager)

	queueSvc := queue.NewService(manager, store, log,
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
		queue.WithMetrics(rec),
	)
	svc := ches.New(store, queueSvc, merge.NewExpander(), log,
		ches.WithOwnerCache(owners, cfg.Redis.OwnerTTL),
		ches.WithMetrics(rec),
		ches.WithDevClient(cfg.DevClientID),
	)

	router := server.NewRouter(server.Routes{
		API:      api.NewHandler(svc, log, cfg.HTTP.MaxBodyBytes),
		Checks:   checks,
		Metrics:  rec,
		Gatherer: reg,
		Log:      log,
	})

	// Workers stop before the pool they share with the API closes.
	hooks = append([]func(context.Context) error{manager.Shutdown()}, hooks...)
	hooks = append(hooks, db.Shutdown(pool))

	log.Info("ches starting",
		slog.String("transport", provider),
		slog.Bool("redis", cfg.Redis.URL != ""),
		slog.Duration("content_retention", cfg.Retention.Age),
	)

	return server.Run(ctx, server.Config{
		Addr:            cfg.HTTP.Addr,
		Handler:         router,
		Log:             log,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		ShutdownHooks:   hooks,
	})
}

func newSender(cfg config.Config, log *slog.Logger) (mailer.Sender, string, error) {
	switch cfg.Mailer.Transport {
	case mailer.TransportResend:
		s, err := resend.New(cfg.Resend)
		if err != nil {
			return nil, "", fmt.Errorf("resend: %w", err)
		}
		return s, cfg.Mailer.Transport, nil
	case mailer.TransportPostmark:
		s, err := postmark.New(cfg.Postmark)
		if err != nil {
			return nil, "", fmt.Errorf("postmark: %w", err)
		}
		return s, cfg.Mailer.Transport, nil
	case mailer.TransportSMTP:
		s, err := smtp.New(cfg.SMTP)
		if err != nil {
			return nil, "", fmt.Errorf("smtp: %w", err)
		}
		return s, cfg.Mailer.Transport, nil
	default:
		return mailer.NewLogSender(log), mailer.TransportLog, nil
	}
}
