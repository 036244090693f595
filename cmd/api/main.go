package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/itemize-cloud/campaign-engine/internal/config"
	"github.com/itemize-cloud/campaign-engine/internal/handler"
	"github.com/itemize-cloud/campaign-engine/internal/infra/postgresql"
	"github.com/itemize-cloud/campaign-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/itemize-cloud/campaign-engine/internal/infra/redis"
	"github.com/itemize-cloud/campaign-engine/internal/mailer"
	"github.com/itemize-cloud/campaign-engine/internal/observability"
	"github.com/itemize-cloud/campaign-engine/internal/plan"
	"github.com/itemize-cloud/campaign-engine/internal/queue"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"github.com/itemize-cloud/campaign-engine/internal/service"
	"github.com/itemize-cloud/campaign-engine/internal/subscription"
	"github.com/itemize-cloud/campaign-engine/internal/transport"
	"github.com/itemize-cloud/campaign-engine/internal/usage"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const subscriptionConsumerPrefetch = 10

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("failed to read .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("campaign-engine api stopped with error", zap.Error(err))
	}
	logger.Info("campaign-engine api stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
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

	metrics := observability.NewMetrics()

	campaignRepo := repository.NewGormCampaignRepo(db)
	contactRepo := repository.NewGormContactRepo(db)
	recipientRepo := repository.NewGormRecipientRepo(db)
	templateRepo := repository.NewGormTemplateRepo(db)
	jobRepo := repository.NewGormJobRepo(db)
	subscriptionRepo := repository.NewGormSubscriptionRepo(db)
	usageRepo := repository.NewGormUsageRepo(db)

	catalog := plan.DefaultCatalog()
	if strings.TrimSpace(cfg.PlansFile) != "" {
		catalog, err = plan.Load(cfg.PlansFile)
		if err != nil {
			return fmt.Errorf("plan catalog load failed: %w", err)
		}
	}

	cache, err := newSubscriptionCache(cfg, rdb)
	if err != nil {
		return err
	}
	subscriptions, err := subscription.NewProvider(subscriptionRepo, cache, catalog, cfg.DefaultPlan, logger)
	if err != nil {
		return fmt.Errorf("subscription provider init failed: %w", err)
	}

	accountant, err := usage.NewAccountant(subscriptions, usageRepo, metrics, logger)
	if err != nil {
		return fmt.Errorf("usage accountant init failed: %w", err)
	}

	mailClient, err := newMailer(ctx, cfg)
	if err != nil {
		return err
	}

	var (
		publisher queue.Publisher
		consumer  queue.Consumer
	)
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}

		publisher = queue.NewRabbitMQPublisher(rabbit)
		consumer = queue.NewRabbitMQConsumer(rabbit, subscriptionConsumerPrefetch, logger)
	} else {
		logger.Warn("RABBITMQ_URL is empty, campaign events are disabled")
	}

	sender := service.Sender{
		FromEmail: cfg.MailDefaultFromEmail,
		FromName:  cfg.MailDefaultFromName,
	}

	dispatcher, err := service.NewDispatcher(campaignRepo, recipientRepo, templateRepo, jobRepo, mailClient, service.DispatcherConfig{
		SendDelay:       cfg.SendDelay,
		CheckpointEvery: cfg.CheckpointEvery,
		LockWait:        cfg.CampaignLockWait,
		Sender:          sender,
	}, logger)
	if err != nil {
		return fmt.Errorf("dispatcher init failed: %w", err)
	}
	dispatcher.SetMetrics(metrics)

	locker, err := infraredis.NewLocker(rdb, cfg.CampaignLockTTL)
	if err != nil {
		return fmt.Errorf("campaign locker init failed: %w", err)
	}
	dispatcher.SetLocker(locker)

	if cfg.RateLimitPerSec > 0 {
		throttle, err := infraredis.NewSendThrottle(rdb, cfg.RateLimitPerSec)
		if err != nil {
			return fmt.Errorf("send throttle init failed: %w", err)
		}
		dispatcher.SetRateLimiter(throttle)
	}
	if publisher != nil {
		dispatcher.SetPublisher(publisher)
	}

	runner, err := service.NewJobRunner(jobRepo, dispatcher, metrics, logger)
	if err != nil {
		return fmt.Errorf("job runner init failed: %w", err)
	}

	sendService, err := service.NewSendService(
		campaignRepo,
		recipientRepo,
		contactRepo,
		templateRepo,
		accountant,
		runner,
		mailClient,
		sender,
		logger,
	)
	if err != nil {
		return fmt.Errorf("send service init failed: %w", err)
	}
	sendService.SetAtomicReserve(cfg.UsageAtomicReserve)
	sendService.SetMetrics(metrics)
	if publisher != nil {
		sendService.SetPublisher(publisher)
	}

	campaignService, err := service.NewCampaignService(campaignRepo, recipientRepo, contactRepo, templateRepo, jobRepo, logger)
	if err != nil {
		return fmt.Errorf("campaign service init failed: %w", err)
	}

	scheduler, err := service.NewScheduler(campaignRepo, sendService, cfg.SchedulerInterval, 0, logger)
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "campaign-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Use(handler.CorrelationMiddleware())

	handler.RegisterHealthRoutes(app, handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb))
	handler.RegisterMetricsRoute(app, metrics.Handler())
	if err := handler.RegisterCampaignRoutes(app, campaignService, sendService); err != nil {
		return fmt.Errorf("campaign routes init failed: %w", err)
	}
	if err := handler.RegisterUsageRoutes(app, accountant, subscriptions); err != nil {
		return fmt.Errorf("usage routes init failed: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("campaign-engine api started", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return scheduler.Start(groupCtx)
	})

	if cfg.RecoverOnStart {
		recovery, err := service.NewRecoveryScanner(campaignRepo, recipientRepo, jobRepo, runner, cfg.RecoveryInterval, 0, logger)
		if err != nil {
			return fmt.Errorf("recovery scanner init failed: %w", err)
		}
		recovery.SetLocker(locker)
		g.Go(func() error {
			return recovery.Start(groupCtx)
		})
	}

	if consumer != nil {
		onSubscriptionChange, err := service.NewSubscriptionEventHandler(subscriptions, logger)
		if err != nil {
			return fmt.Errorf("subscription event handler init failed: %w", err)
		}
		g.Go(func() error {
			return consumer.Consume(groupCtx, queue.SubscriptionEventsQueue, onSubscriptionChange)
		})
	}

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down campaign-engine api")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := runner.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		// Publisher and consumer share one connection.
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("rabbitmq close: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newSubscriptionCache(cfg *config.Config, rdb *redis.Client) (subscription.Cache, error) {
	if cfg.SubscriptionCache == config.SubscriptionCacheRedis {
		cache, err := infraredis.NewSubscriptionCache(rdb, cfg.SubscriptionCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("redis subscription cache init failed: %w", err)
		}
		return cache, nil
	}
	return subscription.NewMemoryCache(cfg.SubscriptionCacheTTL, nil), nil
}

func newMailer(ctx context.Context, cfg *config.Config) (mailer.Mailer, error) {
	switch cfg.MailProvider {
	case config.MailProviderSES:
		m, err := mailer.NewSESMailer(ctx, mailer.SESConfig{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("ses mailer init failed: %w", err)
		}
		return m, nil
	default:
		m, err := mailer.NewHTTPMailer(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailTimeout)
		if err != nil {
			return nil, fmt.Errorf("http mailer init failed: %w", err)
		}
		return m, nil
	}
}
