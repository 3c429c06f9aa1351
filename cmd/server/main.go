package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	payoutapp "github.com/marketplace/payouts/internal/application/payout"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/auth"
	"github.com/marketplace/payouts/internal/infrastructure/cache"
	"github.com/marketplace/payouts/internal/infrastructure/config"
	"github.com/marketplace/payouts/internal/infrastructure/event"
	"github.com/marketplace/payouts/internal/infrastructure/logger"
	"github.com/marketplace/payouts/internal/infrastructure/messaging"
	"github.com/marketplace/payouts/internal/infrastructure/persistence"
	"github.com/marketplace/payouts/internal/infrastructure/scheduler"
	"github.com/marketplace/payouts/internal/infrastructure/storage"
	"github.com/marketplace/payouts/internal/infrastructure/telemetry"
	"github.com/marketplace/payouts/internal/interfaces/http/handler"
	"github.com/marketplace/payouts/internal/interfaces/http/router"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	bootLog, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize telemetry", zap.Error(err))
	}

	// Once telemetry is up, log records are also shipped over OTLP
	log := bootLog
	if providers.IsEnabled() {
		log, err = logger.New(logCfg, providers.ZapCore(logger.ParseLevel(cfg.Log.Level)))
		if err != nil {
			bootLog.Fatal("Failed to initialize logger", zap.Error(err))
		}
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting payouts service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", cfg.App.Version),
		zap.Bool("telemetry", providers.IsEnabled()),
	)

	loc, err := cfg.Payout.Location()
	if err != nil {
		log.Fatal("Invalid payout timezone", zap.String("timezone", cfg.Payout.Timezone), zap.Error(err))
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Database.LogLevel), cfg.Database.SlowThreshold)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	// Postgres schemas are owned by cmd/migrate
	if db.Driver() == "sqlite" {
		if err := db.AutoMigrate(rootCtx); err != nil {
			log.Fatal("Failed to migrate sqlite schema", zap.Error(err))
		}
	}
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:               providers.IsEnabled() && cfg.Telemetry.DBTraceEnabled,
		DBName:                cfg.Database.DBName,
		IncludeQueryVariables: cfg.Telemetry.DBLogFullSQL,
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully", zap.String("driver", db.Driver()))

	orderRepo := persistence.NewGormOrderRepository(db.DB)
	payoutRepo := persistence.NewGormPayoutRepository(db.DB)
	settingsRepo := persistence.NewGormCommissionSettingsRepository(db.DB)

	cacheFactory, err := cache.NewFactory(rootCtx, cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(!cfg.App.IsProduction()),
	)
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}
	defer func() {
		if err := cacheFactory.Close(); err != nil {
			log.Error("Error closing cache", zap.Error(err))
		}
	}()
	ledgerCache := cacheFactory.LedgerCache(cfg.Payout.LedgerCacheTTL)

	metrics, err := telemetry.NewPayoutMetrics(providers.Meter("payouts"))
	if err != nil {
		log.Fatal("Failed to create payout metrics", zap.Error(err))
	}

	retry := payoutapp.RetryPolicy{
		InitialInterval: cfg.Payout.RetryInitialInterval,
		MaxInterval:     cfg.Payout.RetryMaxInterval,
		MaxElapsedTime:  cfg.Payout.RetryMaxElapsed,
	}

	// Event bus; local handlers are wrapped so a broker redelivery of the
	// same event is a no-op
	eventBus := event.NewInMemoryEventBus(log)
	idempotency := shared.IdempotencyConfig{TTL: cfg.Payout.IdempotencyTTL, Enabled: true}
	ledgerInvalidator := event.NewIdempotentHandler(
		payoutapp.NewLedgerCacheInvalidator(ledgerCache, loc, log),
		cacheFactory.IdempotencyStore(),
		log,
		event.WithIdempotencyConfig(idempotency),
		event.WithIdempotencyScope("ledger-cache"),
	)
	eventBus.Subscribe(ledgerInvalidator)

	var amqpClient *messaging.Client
	var consumer *messaging.EventConsumer
	if cfg.Messaging.Enabled {
		amqpClient, err = messaging.NewClient(cfg.Messaging, log)
		if err != nil {
			log.Fatal("Failed to connect to message broker", zap.Error(err))
		}
		serializer := event.NewPayoutEventSerializer()
		forwarder := messaging.NewEventForwarder(amqpClient, serializer, cfg.App.Name, log,
			messaging.WithPublishRetry(3, func() backoff.BackOff {
				b := backoff.NewExponentialBackOff()
				b.InitialInterval = cfg.Payout.RetryInitialInterval
				b.MaxInterval = cfg.Payout.RetryMaxInterval
				b.MaxElapsedTime = cfg.Payout.RetryMaxElapsed
				return b
			}),
		)
		eventBus.Subscribe(forwarder)
		// Other instances' order and commission changes evict our cached ledgers
		consumer = messaging.NewEventConsumer(amqpClient, serializer, ledgerInvalidator, cfg.App.Name+"-ledger-cache", log)
	}
	if err := eventBus.Start(rootCtx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	var reportStore payoutapp.ReportStorage
	if cfg.Storage.Enabled {
		s3Store, err := storage.NewS3ReportStore(&cfg.Storage,
			storage.WithLogger(log),
			storage.WithPresignExpiry(cfg.Storage.PresignExpiry),
		)
		if err != nil {
			log.Fatal("Failed to initialize report storage", zap.Error(err))
		}
		if err := s3Store.EnsureBucket(rootCtx); err != nil {
			log.Fatal("Failed to prepare report bucket", zap.String("bucket", s3Store.Bucket()), zap.Error(err))
		}
		reportStore = s3Store
	} else {
		log.Warn("Object storage disabled, reconciliation exports are kept in memory")
		reportStore = storage.NewMemoryReportStore()
	}

	defaultRate, err := payout.RateFromPercent(cfg.Commission.DefaultRatePercent)
	if err != nil {
		log.Fatal("Invalid default commission rate", zap.Error(err))
	}
	commissionService := payoutapp.NewCommissionService(settingsRepo, defaultRate, cfg.Commission.Currency, log)
	commissionService.SetEventPublisher(eventBus)
	commissionService.SetRetryPolicy(retry)

	ledgerService := payoutapp.NewLedgerService(orderRepo, commissionService, log,
		payoutapp.WithLocation(loc),
		payoutapp.WithRetryPolicy(retry),
		payoutapp.WithLedgerCache(ledgerCache, cfg.Payout.LedgerCacheTTL),
		payoutapp.WithMetrics(metrics),
	)

	orderService := payoutapp.NewOrderService(orderRepo, commissionService, loc, log)
	orderService.SetEventPublisher(eventBus)
	orderService.SetRetryPolicy(retry)

	lifecycleService := payoutapp.NewPayoutLifecycleService(ledgerService, payoutRepo, cfg.Payout.AmountTolerance, log)
	lifecycleService.SetEventPublisher(eventBus)
	lifecycleService.SetRetryPolicy(retry)
	lifecycleService.SetMetrics(metrics)

	reconciliationService := payoutapp.NewReconciliationService(ledgerService, payoutRepo, commissionService, reportStore,
		payoutapp.ReconciliationConfig{
			ExportPrefix:      cfg.Storage.Prefix,
			DownloadURLExpiry: cfg.Storage.PresignExpiry,
		}, log)
	reconciliationService.SetRetryPolicy(retry)
	reconciliationService.SetLifecycle(lifecycleService)

	exportHour, exportMinute, err := scheduler.ParseCronSchedule(cfg.Scheduler.ExportSchedule)
	if err != nil {
		log.Fatal("Invalid export schedule", zap.Error(err))
	}
	exportScheduler := scheduler.NewExportScheduler(scheduler.ExportSchedulerConfig{
		Enabled:       cfg.Scheduler.Enabled,
		CronHour:      exportHour,
		CronMinute:    exportMinute,
		JobTimeout:    cfg.Scheduler.JobTimeout,
		RetryAttempts: cfg.Scheduler.RetryAttempts,
		RetryDelay:    cfg.Scheduler.RetryDelay,
	}, func(ctx context.Context, periodKey string) error {
		_, err := reconciliationService.ExportPeriod(ctx, periodKey)
		return err
	}, loc, log)
	if err := exportScheduler.Start(rootCtx); err != nil {
		log.Fatal("Failed to start export scheduler", zap.Error(err))
	}

	checks := map[string]handler.HealthCheck{"database": db.Ping}
	if cacheFactory.UsesRedis() {
		checks["redis"] = cacheFactory.Ping
	}
	engine := router.NewEngine(router.EngineConfig{
		HTTP:           cfg.HTTP,
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: providers.IsEnabled(),
		Production:     cfg.App.IsProduction(),
		JWTService:     auth.NewJWTService(cfg.JWT),
		Logger:         log,
	}, router.Handlers{
		Health:         handler.NewHealthHandler(cfg.App.Version, checks),
		Orders:         handler.NewOrderHandler(orderService),
		Payouts:        handler.NewPayoutHandler(lifecycleService),
		Reconciliation: handler.NewReconciliationHandler(reconciliationService),
		Commission:     handler.NewCommissionHandler(commissionService),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := exportScheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := eventBus.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := providers.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("Server exited gracefully")
}
