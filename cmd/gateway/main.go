package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/alert"
	"github.com/lalithlochan/alerts/internal/api"
	"github.com/lalithlochan/alerts/internal/audience"
	"github.com/lalithlochan/alerts/internal/circuitbreaker"
	"github.com/lalithlochan/alerts/internal/config"
	"github.com/lalithlochan/alerts/internal/db"
	"github.com/lalithlochan/alerts/internal/dispatch"
	"github.com/lalithlochan/alerts/internal/metrics"
	"github.com/lalithlochan/alerts/internal/observ"
	"github.com/lalithlochan/alerts/internal/outbox"
	"github.com/lalithlochan/alerts/internal/redis"
	alertsns "github.com/lalithlochan/alerts/internal/sns"
	"github.com/lalithlochan/alerts/internal/sqs"
	"github.com/lalithlochan/alerts/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "alerts-gateway")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting alerts gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("api_version", cfg.APIVersion),
	)

	ctx := context.Background()

	// Initialize database connection
	database, err := db.New(ctx, db.Config{
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		Database:        cfg.DBName,
		SSLMode:         cfg.DBSSLMode,
		ApplicationName: "alerts-gateway",
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)
	alerts := alert.NewService(repo, logger)

	// Redis backs idempotency and rate limiting; both are optional
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		defer redisClient.Close()
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: time.Minute,
		})
	}

	// SQS carries message ids from the outbox to the worker
	var producer *sqs.Producer
	var consumer worker.Consumer
	if cfg.SQSQueueURL != "" {
		sqsCfg := sqs.Config{Region: cfg.SQSRegion, QueueURL: cfg.SQSQueueURL, DLQURL: cfg.SQSDLQURL}
		client, err := sqs.NewClient(ctx, sqsCfg.Region)
		if err != nil {
			logger.Warn("sqs unavailable, worker will poll the messages table only", zap.Error(err))
		} else {
			producer = sqs.NewProducer(client, sqsCfg.QueueURL, logger)
			consumer = sqs.NewConsumer(client, sqsCfg.QueueURL, logger)
			logger.Info("sqs configured",
				zap.String("queue_url", sqsCfg.QueueURL),
				zap.String("redrive_queue_url", sqsCfg.DLQURL),
			)
		}
	}

	// a nil *sqs.Producer must not reach the outbox as a non-nil Queue
	var box *outbox.Outbox
	if producer != nil {
		box = outbox.New(repo, producer, logger)
	} else {
		box = outbox.New(repo, nil, logger)
	}

	coordinator := audience.NewCoordinator(buildResolvers(cfg, repo, logger), cfg.ResolveTimeout, logger)
	pipeline := dispatch.NewPipeline(repo, alerts, coordinator, box, dispatch.Config{
		SenderID:    cfg.DefaultSMSSenderID,
		Concurrency: cfg.SubmitConcurrency,
	}, logger)

	if cfg.AlertEventsTopicARN != "" {
		eventsClient, err := alertsns.NewClient(ctx, cfg.SNSRegion)
		if err != nil {
			logger.Warn("dispatch events disabled", zap.Error(err))
		} else {
			pipeline.WithEvents(alertsns.NewPublisher(eventsClient, cfg.AlertEventsTopicARN, logger))
			logger.Info("dispatch events enabled", zap.String("topic_arn", cfg.AlertEventsTopicARN))
		}
	}

	// SMS delivery through SNS in production, guarded by a circuit breaker
	var sender worker.Sender
	if cfg.IsProduction() {
		snsClient, err := worker.NewSNSClient(ctx, worker.SNSConfig{Region: cfg.SNSRegion})
		if err != nil {
			return fmt.Errorf("failed to create SNS client: %w", err)
		}
		sender = worker.NewSNSSender(snsClient, logger)
	} else {
		sender = worker.NewLogSender(logger)
	}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("sms"), logger)
	protected := circuitbreaker.NewProtectedSender(sender, breaker, logger)

	w := worker.New(repo, protected, consumer, worker.Config{
		PollInterval:  cfg.WorkerPollInterval,
		BatchSize:     cfg.WorkerBatchSize,
		MaxRetries:    cfg.WorkerMaxRetries,
		RatePerSecond: cfg.SMSRatePerSecond,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		w.Start(workerCtx)
	}()
	go func() {
		defer background.Done()
		reportPoolStats(workerCtx, database, redisClient)
	}()

	logger.Info("background worker started", zap.Bool("sqs_enabled", consumer != nil))

	handler := api.NewHandler(logger, alerts, pipeline, repo, api.Options{
		Idempotency: idempotencyService,
		Database:    database,
		Breakers:    []*circuitbreaker.CircuitBreaker{breaker},
	})

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(api.RequestLogger(logger))

	r.Route("/"+cfg.APIVersion, func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(api.AuthMiddleware([]byte(cfg.JWTSecret), logger))
		} else {
			logger.Warn("JWT_SECRET not set, API is unauthenticated")
		}
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.CallerKeyFunc))

		handler.Routes(r)
	})

	r.Get("/health", handler.Health)
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
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

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		workerCancel()
		background.Wait()

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildResolvers uses a remote directory for every category with a
// configured URL and the local audience tables otherwise.
func buildResolvers(cfg *config.Config, repo *db.Repository, logger *zap.Logger) audience.Resolvers {
	resolvers := audience.LocalResolvers(repo)

	if cfg.ServiceRequestDirectoryURL != "" {
		resolvers.Reporters = audience.NewRemoteDirectory(cfg.ServiceRequestDirectoryURL, cfg.DirectoryTimeout, false, logger)
	}
	if cfg.AccountDirectoryURL != "" {
		resolvers.Customers = audience.NewRemoteDirectory(cfg.AccountDirectoryURL, cfg.DirectoryTimeout, false, logger)
	}
	if cfg.PartyDirectoryURL != "" {
		resolvers.Employees = audience.NewRemoteDirectory(cfg.PartyDirectoryURL, cfg.DirectoryTimeout, true, logger)
	}

	return resolvers
}

func reportPoolStats(ctx context.Context, database *db.DB, redisClient *redis.Client) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetDBConnections(database.AcquiredConns())
			if redisClient != nil {
				metrics.SetRedisConnections(redisClient.TotalConns())
			}
		}
	}
}
