package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"soapbox/internal/cache"
	"soapbox/internal/config"
	"soapbox/internal/contentstore"
	"soapbox/internal/entitystore"
	"soapbox/internal/models"
	"soapbox/internal/resolver"
	"soapbox/internal/tasks"
	"soapbox/internal/vectorindex"
	"soapbox/internal/worker"
	pkgconfig "soapbox/pkg/config"
	"soapbox/pkg/database"
	"soapbox/pkg/kafka"
	"soapbox/pkg/logging"
	"soapbox/pkg/monitoring"
	"soapbox/pkg/redis"
	"soapbox/pkg/server"
)

const version = "0.1.0"

func main() {
	// Initialize logger
	logger := logging.NewLoggerWithService("soapboxd")

	// Load environment variables
	pkgconfig.LoadEnv(logger)

	logger.Info("Starting Soapbox persistence worker")

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to the relational entity store
	pgConfig := database.DefaultPostgresConfig()
	pgConfig.URL = cfg.Postgres.URL
	pgConfig.MaxOpenConns = cfg.Postgres.MaxOpenConns
	pgConfig.MaxIdleConns = cfg.Postgres.MaxIdleConns
	db := database.MustConnectPostgres(pgConfig, logger)
	defer db.Close()

	if err := database.ApplySchema(ctx, db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply schema")
	}

	// Connect to the document content store
	mongoConfig := database.DefaultMongoConfig()
	mongoConfig.URI = cfg.Mongo.URI
	mongoConfig.Database = cfg.Mongo.Database
	mongoDB, closeMongo := database.MustConnectMongo(mongoConfig, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := closeMongo(closeCtx); err != nil {
			logger.WithError(err).Warn("Mongo disconnect failed")
		}
	}()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("soapboxd", version)
	metricsCollector := monitoring.NewMetricsCollector("soapboxd", version, "")

	cacheRequests, cacheErrors := metricsCollector.CreateCacheMetrics()
	taskCounts, taskDurations, deadLettered := metricsCollector.CreateTaskMetrics()

	// Select the cache implementation
	var cacheLayer cache.Cache = cache.NewDisabled()
	var redisClient goredis.UniversalClient
	if cfg.Cache.Enabled {
		var err error
		redisClient, err = redis.NewUniversalClient(ctx, redis.Config{
			Mode:     redis.ModeSingle,
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to redis")
		}
		defer redisClient.Close()
		cacheLayer = cache.NewInstrumented(
			cache.NewRedisCache(redisClient, cfg.Cache.ActivityMaxLen, logger),
			cacheRequests, cacheErrors,
		)
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	} else {
		logger.Info("Cache disabled, running against authoritative stores only")
	}
	ttls := cache.TTLs{
		Short:    cfg.Cache.ShortTTL,
		Medium:   cfg.Cache.MediumTTL,
		Standard: cfg.Cache.StandardTTL,
	}

	// Stores
	entities := entitystore.NewStore(db, logger)
	content := contentstore.NewStore(mongoDB, logger)
	if err := content.EnsureIndexes(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to create content indexes")
	}

	vectors, err := vectorindex.New(cfg.Vector.Dimension, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build vector index")
	}
	defer vectors.Close()

	// Task transport
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create kafka producer")
	}
	defer producer.Close()

	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.ClientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create kafka consumer")
	}
	defer consumer.Close()

	dispatcher := tasks.NewDispatcher(producer, logger)

	crossRef := resolver.New(entities, content, vectors, cacheLayer, dispatcher, nil, cfg.Resolver, logger)

	runner := tasks.NewRunner(producer, tasks.RetryPolicy{
		MaxAttempts: cfg.Tasks.MaxAttempts,
		BackoffBase: cfg.Tasks.BackoffBase,
		BackoffMax:  cfg.Tasks.BackoffMax,
	}, cfg.Kafka.GroupID, logger)
	runner.OnTaskDone = func(kind tasks.TaskKind, priority tasks.Priority, status string, elapsed time.Duration) {
		taskCounts.WithLabelValues(string(kind), string(priority), status).Inc()
		taskDurations.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	}
	runner.OnDeadLetter = func(kind tasks.TaskKind, reason string) {
		deadLettered.WithLabelValues(string(kind), reason).Inc()
	}

	workers := worker.New(entities, content, vectors, cacheLayer, dispatcher, crossRef, nil, ttls, logger)
	workers.Register(runner)
	for _, topic := range tasks.Topics() {
		consumer.AddHandler(topic, runner.HandleMessage)
	}

	// Health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("mongodb", monitoring.MongoHealthCheck(mongoDB.Client()))
	healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(producer.Client()))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": cfg.Postgres.URL,
		"MONGODB_URI":  cfg.Mongo.URI,
	}))

	router := server.SetupServiceRouter(logger, "soapboxd", healthChecker, metricsCollector)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(groupCtx, server.DefaultConfig("soapboxd", cfg.HTTPAddr), router, logger)
	})
	group.Go(func() error {
		err := consumer.Start(groupCtx)
		if groupCtx.Err() != nil {
			return nil
		}
		return err
	})
	group.Go(func() error {
		crossRef.Run(groupCtx)
		return nil
	})

	// Surface alert events for watched topics
	if redisClient != nil && len(cfg.Cache.AlertTopics) > 0 {
		alerts := redis.NewTypedPubSub[models.AlertEvent](redisClient, logger)
		for _, topic := range cfg.Cache.AlertTopics {
			channel := cache.AlertChannel(topic)
			group.Go(func() error {
				return alerts.Subscribe(groupCtx, channel, func(event models.AlertEvent) {
					logger.WithFields(logging.Fields{
						"topic":      event.Topic,
						"content_id": event.ContentID,
						"entity_id":  event.EntityID,
						"platform":   event.Platform,
					}).Info("Watched topic mentioned")
				})
			})
		}
	}

	if err := group.Wait(); err != nil {
		logger.WithError(err).Fatal("Worker terminated")
	}
	logger.Info("Soapbox persistence worker stopped")
}
