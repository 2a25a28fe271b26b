package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kursadbilgin/webhook-dispatcher/internal/config"
	"github.com/kursadbilgin/webhook-dispatcher/internal/handler"
	"github.com/kursadbilgin/webhook-dispatcher/internal/infra/postgresql"
	"github.com/kursadbilgin/webhook-dispatcher/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/webhook-dispatcher/internal/infra/redis"
	"github.com/kursadbilgin/webhook-dispatcher/internal/observability"
	"github.com/kursadbilgin/webhook-dispatcher/internal/provider"
	"github.com/kursadbilgin/webhook-dispatcher/internal/queue"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"github.com/kursadbilgin/webhook-dispatcher/internal/service"
	"github.com/kursadbilgin/webhook-dispatcher/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("webhook dispatcher stopped with error", zap.Error(err))
	}
	logger.Info("webhook dispatcher stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	metrics := observability.NewMetrics()

	destinationRepo := repository.NewGormDestinationRepo(db)
	dispatchRepo := repository.NewGormDispatchRepo(db)
	deliveryRepo := repository.NewGormDeliveryRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)

	webhookExecutor, err := provider.NewWebhookExecutor(cfg.UserAgentProduct)
	if err != nil {
		return err
	}
	executor, err := provider.NewBreakerExecutor(webhookExecutor, cfg.BreakerFailureThreshold, cfg.BreakerCooldown(), logger)
	if err != nil {
		return err
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.DeliveryRateLimitPerSec)
	if err != nil {
		return err
	}

	deliveryService, err := service.NewDeliveryService(destinationRepo, deliveryRepo, attemptRepo, executor, rateLimiter, logger)
	if err != nil {
		return err
	}
	deliveryService.SetMetrics(metrics)

	dispatcher, err := service.NewDispatcher(destinationRepo, dispatchRepo, deliveryRepo, deliveryService, cfg.DispatchConcurrency, logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)
	defer dispatcher.Wait()

	sweeper, err := service.NewRetrySweeper(deliveryRepo, deliveryService, cfg.SweepInterval(), cfg.SweepBatchSize, cfg.StalledAfter(), logger)
	if err != nil {
		return err
	}
	webhookService, err := service.NewWebhookService(deliveryService, sweeper, cfg.DeferredRetryEnabled, logger)
	if err != nil {
		return err
	}

	destinationService, err := service.NewDestinationService(destinationRepo, logger)
	if err != nil {
		return err
	}
	ledgerService, err := service.NewLedgerService(dispatchRepo, deliveryRepo, attemptRepo, logger)
	if err != nil {
		return err
	}
	ledgerService.SetRetryScheduler(webhookService)

	publisher := queue.NewRabbitMQPublisher(rabbit)
	intake, err := service.NewEventIntake(publisher, logger)
	if err != nil {
		return err
	}

	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.EventQueuePrefetch, logger)
	eventWorker, err := service.NewEventWorker(consumer, dispatcher, cfg.EventWorkerConcurrency, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "webhook-dispatcher",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})
	app.Use(fiberrecover.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, map[string]handler.ReadinessCheck{
		"postgres": sqlDB.PingContext,
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
		"rabbitmq": rabbit.Ping,
	})
	if err := handler.RegisterDestinationRoutes(app, destinationService); err != nil {
		return err
	}
	if err := handler.RegisterEventRoutes(app, intake); err != nil {
		return err
	}
	if err := handler.RegisterDeliveryRoutes(app, ledgerService); err != nil {
		return err
	}
	if err := handler.RegisterCallbackRoutes(app, destinationService, logger); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("webhook dispatcher api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error {
		return webhookService.Start(groupCtx)
	})
	g.Go(func() error {
		return eventWorker.Start(groupCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
