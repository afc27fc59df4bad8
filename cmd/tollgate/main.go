package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/forgeworks/tollgate/pkg/api"
	"github.com/forgeworks/tollgate/pkg/audit"
	"github.com/forgeworks/tollgate/pkg/billing"
	"github.com/forgeworks/tollgate/pkg/config"
	"github.com/forgeworks/tollgate/pkg/integrations"
	"github.com/forgeworks/tollgate/pkg/limits"
	"github.com/forgeworks/tollgate/pkg/observability"
	"github.com/forgeworks/tollgate/pkg/plans"
	"github.com/forgeworks/tollgate/pkg/storage/postgres"
	"github.com/forgeworks/tollgate/pkg/stripe"
	"github.com/forgeworks/tollgate/pkg/usage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tollgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", cfg.Observability.OTelServiceVersion).Info("Starting tollgate")

	ctx := context.Background()

	db, err := postgres.Connect(postgres.Config{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
		Timeout:  cfg.Database.Timeout,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	logger.Info("Database schema ready")

	// Redis backs webhook dedupe; without it repeated processor
	// deliveries are re-applied, which the handlers tolerate.
	var redisClient *redis.Client
	deduper := billing.Deduper(billing.NopDeduper{})
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.ConnectRedis(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		deduper = billing.NewRedisDeduperFromClient(redisClient)
		logger.Info("Redis connected, webhook deduplication enabled")
	} else {
		logger.Warn("No Redis URL configured, webhook deduplication disabled")
	}

	var gateway billing.Gateway
	if cfg.Billing.StripeAPIKey != "" {
		gateway = stripe.NewClient(cfg.Billing.StripeAPIKey, cfg.Billing.StripeWebhookSecret, stripe.PlanPrices(cfg.Billing.PlanPrices))
		logger.Info("Stripe gateway configured")
	} else {
		gateway = billing.NewMockGateway()
		logger.Warn("No Stripe API key configured, using in-memory mock gateway")
	}

	var (
		metrics      *observability.Metrics
		promRegistry *prometheus.Registry
	)
	if cfg.Observability.MetricsEnabled {
		promRegistry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(promRegistry)
		gateway = billing.NewInstrumentedGateway(gateway, metrics)
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var otelMetrics *observability.OTelMetrics
	if otelProviders != nil {
		otelMetrics, err = observability.NewOTelMetrics()
		if err != nil {
			return fmt.Errorf("failed to create OTel metrics: %w", err)
		}
	}

	auditLog, err := audit.NewDBLogger(db)
	if err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}

	catalog := plans.NewPostgresCatalog(db)
	ledger := usage.NewPostgresLedger(db)
	coordinator := billing.NewCoordinator(db, catalog, gateway, deduper, auditLog, logger)
	registry := integrations.NewPostgresRegistry(db, auditLog, logger)
	integrationSvc := integrations.NewService(registry, integrations.LocalConnector{}, ledger, logger)
	enforcer := limits.NewEnforcer(coordinator, catalog, ledger, registry, logger)

	server := api.NewServer(api.Deps{
		Catalog:      catalog,
		Coordinator:  coordinator,
		Ledger:       ledger,
		Enforcer:     enforcer,
		Integrations: integrationSvc,
		Registry:     registry,
		Audit:        auditLog,
		Logger:       logger,
		Metrics:      metrics,
	})

	var handler http.Handler = server
	if otelProviders != nil {
		handler = otelhttp.NewHandler(handler, "tollgate-api")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics live on a separate listener so probes stay
	// reachable when the API port is saturated.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if promRegistry != nil {
		observability.RegisterMetricsEndpoint(healthMux, promRegistry)
	}
	// Plan administration rides the ops listener, never the tenant API.
	api.NewPlanHandlers(catalog, auditLog, logger).RegisterAdminRoutes(healthMux)
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Local subscriptions renew on the first of the month.
	sweeper := cron.New(cron.WithLocation(time.UTC))
	if _, err := sweeper.AddFunc("0 0 1 * *", func() {
		n, err := coordinator.SweepRenewals(context.Background(), time.Now().UTC())
		if err != nil {
			logger.WithError(err).Error("Renewal sweep failed")
			return
		}
		logger.WithField("renewed", n).Info("Renewal sweep complete")
	}); err != nil {
		return fmt.Errorf("failed to schedule renewal sweep: %w", err)
	}
	sweeper.Start()

	statsStop := make(chan struct{})
	if metrics != nil || otelMetrics != nil {
		go pollGauges(db, metrics, otelMetrics, logger, statsStop)
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		close(statsStop)
		stopCtx := sweeper.Stop()
		select {
		case <-stopCtx.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		return err
	}
	return g.Wait()
}

// pollGauges keeps the connection-pool and subscription gauges current.
// The OTel connection counters take deltas, so the previous snapshot is
// carried between ticks.
func pollGauges(db *sql.DB, metrics *observability.Metrics, otelMetrics *observability.OTelMetrics, logger *observability.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var prevActive, prevIdle int
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		stats := db.Stats()
		if metrics != nil {
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
			metrics.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
			metrics.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
		}
		if otelMetrics != nil {
			otelMetrics.UpdateDBConnectionStats(context.Background(), stats.InUse-prevActive, stats.Idle-prevIdle)
		}
		prevActive, prevIdle = stats.InUse, stats.Idle

		if metrics == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var active int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions WHERE status != 'canceled'`).Scan(&active)
		cancel()
		if err != nil {
			logger.WithError(err).Debug("Failed to count active subscriptions")
			continue
		}
		metrics.SubscriptionsActive.Set(float64(active))
	}
}
