package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/api"
	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/circuitbreaker"
	"github.com/lalithlochan/herald/internal/config"
	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/engine"
	"github.com/lalithlochan/herald/internal/metrics"
	"github.com/lalithlochan/herald/internal/mongo"
	"github.com/lalithlochan/herald/internal/observ"
	"github.com/lalithlochan/herald/internal/redis"
	"github.com/lalithlochan/herald/internal/sqs"
	"github.com/lalithlochan/herald/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting herald gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.StoreDriver),
	)

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis backs idempotency, rate limiting, the batch lock and the in-app inbox.
	redisClient, err := redis.New(ctx, cfg.Redis(), logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency, rate limiting and in-app inbox disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var (
		idempotencyService *redis.IdempotencyService
		rateLimiter        *redis.RateLimiter
		locker             engine.Locker
		inbox              *redis.Inbox
	)
	if redisClient != nil {
		defer redisClient.Close()
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, cfg.RateLimitConfig())
		locker = redis.NewLocker(redisClient, logger)
		inbox = redis.NewInbox(redisClient, logger, redis.DefaultInboxSize)
	}

	senders := buildSenders(ctx, cfg, inbox, logger)

	eng := engine.New(store, channel.NewRegistry(logger, senders...), locker, engine.Config{
		SendTimeout:       cfg.SendTimeout,
		FanoutConcurrency: cfg.FanoutConcurrency,
		BatchLockTTL:      cfg.BatchLockTTL,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var workers sync.WaitGroup

	hour, minute, _ := cfg.DailyBatchTime()
	scheduler := worker.NewScheduler(eng, worker.ScheduleConfig{
		Interval:    cfg.BatchInterval,
		DailyHour:   hour,
		DailyMinute: minute,
	}, logger)
	workers.Add(1)
	go func() {
		defer workers.Done()
		scheduler.Start(workerCtx)
	}()

	var handler *api.Handler
	if cfg.SQSQueueURL != "" {
		sqsCfg := sqs.Config{Region: cfg.SQSRegion, QueueURL: cfg.SQSQueueURL}

		producer, err := sqs.NewProducer(ctx, sqsCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqs producer: %w", err)
		}
		consumer, err := sqs.NewConsumer(ctx, sqsCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqs consumer: %w", err)
		}

		eventConsumer := worker.NewConsumer(consumer, store, eng, 0, logger)
		workers.Add(1)
		go func() {
			defer workers.Done()
			eventConsumer.Start(workerCtx)
		}()

		handler = api.NewHandlerWithQueue(logger, store, eng, idempotencyService, producer)
	} else if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, store, eng, idempotencyService)
	} else {
		handler = api.NewHandler(logger, store, eng)
	}
	if inbox != nil {
		handler.WithInbox(inbox)
	}

	logger.Info("background workers started",
		zap.Bool("event_consumer", cfg.SQSQueueURL != ""),
		zap.String("batch_daily_at", cfg.BatchDailyAt),
		zap.Duration("batch_interval", cfg.BatchInterval),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, rateLimiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		workerCancel()
		workers.Wait()

		logger.Info("server stopped gracefully")
	}

	return nil
}

// openStore connects the store selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (db.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := mongo.Connect(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		store, err := mongo.NewStore(ctx, client.Database(cfg.Mongo.Database), logger)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("failed to prepare mongo store: %w", err)
		}
		return store, func() { _ = client.Disconnect(context.Background()) }, nil

	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		return db.NewMemoryStore(), func() {}, nil

	default:
		database, err := db.New(ctx, cfg.Postgres(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("database connection established",
			zap.String("host", cfg.DBHost),
			zap.Int("port", cfg.DBPort),
			zap.String("database", cfg.DBName),
		)
		return db.NewRepository(database, logger), database.Close, nil
	}
}

// buildSenders returns the configured transports ahead of the log fallback.
// The registry picks the first sender supporting each channel.
func buildSenders(ctx context.Context, cfg *config.Config, inbox *redis.Inbox, logger *zap.Logger) []channel.Sender {
	var senders []channel.Sender

	protect := func(name string, s channel.Sender) channel.Sender {
		breakerCfg := circuitbreaker.DefaultConfig(name)
		breakerCfg.MaxFailures = cfg.CircuitMaxFailures
		breakerCfg.RecoveryTimeout = cfg.CircuitRecoveryTimeout
		breakerCfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
			metrics.SetCircuitState(name, int(to))
		}
		return channel.NewProtectedSender(s, circuitbreaker.New(breakerCfg, logger), logger)
	}

	if cfg.SESEnabled {
		ses, err := channel.NewSESSender(ctx, channel.SESConfig{Region: cfg.AWSRegion, FromEmail: cfg.SESFromEmail}, logger)
		if err != nil {
			logger.Warn("SES sender unavailable, email falls back to log", zap.Error(err))
		} else {
			senders = append(senders, protect("ses", ses))
		}
	}

	if cfg.SNSEnabled {
		sns, err := channel.NewSNSSender(ctx, channel.SNSConfig{Region: cfg.SNSRegion}, logger)
		if err != nil {
			logger.Warn("SNS sender unavailable, SMS falls back to log", zap.Error(err))
		} else {
			senders = append(senders, protect("sns", sns))
		}
	}

	if inbox != nil {
		senders = append(senders, channel.NewInboxSender(inbox, logger))
	}

	senders = append(senders, channel.NewLogSender(logger))

	logger.Info("initialized multi-channel notification system",
		zap.Bool("ses_enabled", cfg.SESEnabled),
		zap.Bool("sns_enabled", cfg.SNSEnabled),
		zap.Bool("inbox_enabled", inbox != nil),
	)
	return senders
}
