package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/text/language"

	"github.com/aspect2729/indostarnaturals-sub000/internal/config"
	"github.com/aspect2729/indostarnaturals-sub000/internal/database"
	idempostgres "github.com/aspect2729/indostarnaturals-sub000/internal/idempotency/postgres"
	"github.com/aspect2729/indostarnaturals-sub000/internal/lock"
	"github.com/aspect2729/indostarnaturals-sub000/internal/notify"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/adapters"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/adapters/gateway"
	httpadapter "github.com/aspect2729/indostarnaturals-sub000/internal/orders/adapters/http"
	orderspostgres "github.com/aspect2729/indostarnaturals-sub000/internal/orders/adapters/postgres"
	ordersapp "github.com/aspect2729/indostarnaturals-sub000/internal/orders/app"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app/subscriptions"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/metrics"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
	"github.com/aspect2729/indostarnaturals-sub000/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewLogger(parseLogLevel(cfg.Telemetry.LogLevel))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTelEndpoint,
		Insecure:       cfg.Telemetry.OTelInsecure,
		EnableTracing:  cfg.Telemetry.EnableTracing,
		EnableMetrics:  cfg.Telemetry.EnableMetrics,
		SampleRate:     cfg.Telemetry.SampleRate,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	meter := otel.GetMeterProvider().Meter(cfg.Service.Name)

	pool, err := database.NewPool(ctx, database.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		logger.Info("running database migrations", "path", cfg.Database.MigrationsPath)
		if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("migrations completed successfully")
	}

	dbMetrics, err := database.NewMetrics(meter)
	if err != nil {
		return err
	}
	gatewayMetrics, err := gateway.NewMetrics(meter)
	if err != nil {
		return err
	}
	notifyMetrics, err := notify.NewMetrics(meter)
	if err != nil {
		return err
	}
	ordersMetrics, err := metrics.NewMetrics(meter)
	if err != nil {
		return err
	}
	httpMetrics, err := httpadapter.NewMetrics(meter)
	if err != nil {
		return err
	}

	repo := adapters.NewObservableRepository(orderspostgres.NewRepository(pool), dbMetrics)
	idemStore := idempostgres.NewStore(pool, cfg.Idempotency.TTL)

	gw := adapters.NewObservableGateway(gateway.NewClient(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		KeyID:         cfg.Gateway.KeyID,
		KeySecret:     cfg.Gateway.KeySecret,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		Timeout:       cfg.Gateway.Timeout,
		RatePerSecond: cfg.Gateway.RatePerSecond,
		Burst:         cfg.Gateway.Burst,
		PlanIDs:       cfg.Gateway.PlanIDs,
		TotalCount:    cfg.Gateway.TotalCount,
		MaxAttempts:   cfg.Gateway.MaxAttempts,
	}), gatewayMetrics)

	locale, err := language.Parse(cfg.Notify.Locale)
	if err != nil {
		return fmt.Errorf("parse NOTIFY_LOCALE: %w", err)
	}
	dispatcher := notify.NewDispatcher(
		notify.NewLogNotifier(logger, notify.NewRenderer(locale)),
		logger,
		notifyMetrics,
		notify.Config{
			QueueSize:   cfg.Notify.QueueSize,
			Workers:     cfg.Notify.Workers,
			SendTimeout: cfg.Notify.SendTimeout,
		},
	)

	service, err := ordersapp.NewService(repo, gw, dispatcher, idemStore, logger, ordersMetrics, cfg.Scheduler.Location)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	locker, closeLocker, err := newLocker(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	scheduler := subscriptions.NewScheduler(repo, locker, dispatcher, logger, ordersMetrics, subscriptions.SchedulerConfig{
		Workers:     cfg.Scheduler.Workers,
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		UnitTimeout: cfg.Scheduler.UnitTimeout,
		LockTTL:     cfg.Scheduler.LockTTL,
	})
	sweeper := subscriptions.NewSweeper(
		subscriptions.NewStateMachine(repo, gw, dispatcher, logger, ordersMetrics),
		cfg.Sweeper.Grace,
		cfg.Sweeper.Batch,
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool); err != nil {
		return err
	}

	mux := http.NewServeMux()
	httpadapter.NewHandler(service, httpadapter.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer), logger).Register(mux)
	httpadapter.RegisterHealth(mux, func(ctx context.Context) error {
		return database.CheckHealth(ctx, pool)
	})
	mux.Handle("GET "+cfg.HTTP.MetricsPath, promhttp.Handler())

	var handler http.Handler = mux
	handler = httpadapter.WithMetrics(handler, httpMetrics)
	handler = httpadapter.WithAccessLog(handler, logger)
	handler = httpadapter.WithRequestID(handler)
	handler = httpadapter.WithRecovery(handler, logger)
	handler = otelhttp.NewHandler(handler, cfg.Service.Name)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var jobs sync.WaitGroup
	if cfg.Scheduler.Enabled {
		jobs.Go(func() { runDaily(ctx, scheduler, cfg.Scheduler.RunHour, cfg.Scheduler.Location, logger) })
	}
	jobs.Go(func() { runSweeper(ctx, sweeper, cfg.Sweeper.Interval, logger) })
	jobs.Go(func() { runPurge(ctx, idemStore, cfg.Idempotency.PurgeInterval, logger) })

	go func() {
		logger.Info("http server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	} else {
		logger.Info("http server stopped")
	}

	jobs.Wait()

	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("notification queue not drained", "error", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown failed", "error", err)
	}
	return nil
}

// newLocker returns a Redis lock when Redis is configured so that only one
// instance runs a day's batch, and an in-process lock otherwise.
func newLocker(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (ports.Locker, func(), error) {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not set, scheduler lock is local to this instance")
		return lock.NewLocal(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return lock.NewRedis(client, "orders:lock:"), func() { _ = client.Close() }, nil
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
