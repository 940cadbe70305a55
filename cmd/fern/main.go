package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
	checkpointrepo "github.com/Ramsey-B/fern/internal/repositories/checkpoint"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/deadletter"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/mapper"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	checkpointroute "github.com/Ramsey-B/fern/pkg/routes/checkpoint"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/sequencer"
	"github.com/Ramsey-B/fern/pkg/state"
	"github.com/Ramsey-B/fern/pkg/state/redisstore"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	shutdownTracing := tracing.Init(cfg.AppName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to shut down tracing")
	}
}

func run(ctx context.Context, cfg config.Config, logger ectologger.Logger) error {
	// State store backend. Postgres carries the checkpoint table and its
	// migrations; Redis is the lighter CAS-over-Lua alternative.
	var (
		store       state.Store
		repo        *checkpointrepo.Repository
		db          database.DB
		redisClient *redis.Client
		redisStore  *redisstore.Store
	)

	switch cfg.StateStoreBackend {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := pingWithRetry(ctx, cfg.StartupMaxAttempts, logger, "redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}); err != nil {
			return err
		}
		defer redisClient.Close()

		redisStore = redisstore.New(redisClient, logger)
		store = redisStore

	default:
		var err error
		db, err = database.Connect(database.Config{
			Driver:          cfg.DatabaseDriver,
			Host:            cfg.DatabaseHost,
			Port:            cfg.DatabasePort,
			User:            cfg.DatabaseUserName,
			Password:        cfg.DatabasePassword,
			Name:            cfg.DatabaseName,
			SSLMode:         cfg.DatabaseSSLMode,
			MaxOpenConns:    cfg.DatabaseMaxOpenConns,
			MaxIdleConns:    cfg.DatabaseMaxIdleConns,
			ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
		}, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		migrations := database.NewMigrationService(logger, &database.MigrationConfig{
			MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
			Version:             uint(cfg.DatabaseMigrationVersion),
		})
		if err := migrations.Migrate(cfg.DatabaseName, db); err != nil {
			return err
		}

		repo = checkpointrepo.NewRepository(db, logger)
		store = repo
	}

	graphClient, err := graph.NewClient(graph.Config{
		Host:     cfg.GraphDBHost,
		Port:     cfg.GraphDBPort,
		Username: cfg.GraphDBUser,
		Password: cfg.GraphDBPassword,
	}, logger)
	if err != nil {
		return err
	}
	defer graphClient.Close(context.Background())

	if err := pingWithRetry(ctx, cfg.StartupMaxAttempts, logger, "graph", graphClient.VerifyConnectivity); err != nil {
		return err
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaDeadLetterTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	defer producer.Close()

	sink := deadletter.NewKafkaSink(producer, logger)
	seq := sequencer.New(store, logger)
	applier := graph.NewApplier(graphClient, logger)
	eventMapper := mapper.New(cfg.DeletePolicy, logger)

	runner := pipeline.New(pipeline.Config{
		MaxAttempts:    cfg.ApplyMaxAttempts,
		BackoffInitial: cfg.ApplyBackoffInitial,
		BackoffMax:     cfg.ApplyBackoffMax,
	}, eventMapper, seq, applier, sink, logger)

	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled {
		consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaChangeTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
			BatchSize:     cfg.FetchBatchSize,
			MaxWait:       cfg.FetchMaxWait,
		}, logger, runner.HandleBatch)

		if err := consumer.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := consumer.Stop(); err != nil {
				logger.WithError(err).Warn("Failed to stop consumer")
			}
		}()
	}

	if err := registerDependencies(store, repo); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.AllowOrigins}))
	e.Use(otelecho.Middleware(cfg.AppName))

	// Nil interface values must stay nil; a typed nil would make the
	// checker probe a dead pointer.
	var redisPinger health.Pinger
	if redisStore != nil {
		redisPinger = redisStore
	}
	var consumerHealth interface{ Health() bool }
	if consumer != nil {
		consumerHealth = consumer
	}
	var sqlxDB *sqlx.DB
	if db != nil {
		sqlxDB = db.Sqlx()
	}

	checker := health.NewChecker(sqlxDB, redisPinger, graphClient, consumerHealth, version)
	checker.RegisterRoutes(e)
	checker.SetReady(true)

	checkpointroute.Register(e.Group("/api/v1/checkpoints"))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	logger.WithFields(map[string]any{
		"port":    cfg.Port,
		"backend": cfg.StateStoreBackend,
		"topic":   cfg.KafkaChangeTopic,
	}).Info("Fern pipeline started")

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// registerDependencies exposes route dependencies through the DI container.
func registerDependencies(store state.Store, repo *checkpointrepo.Repository) error {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[state.Store](container, store); err != nil {
		return err
	}
	if repo != nil {
		if err := ectoinject.RegisterInstance[*checkpointrepo.Repository](container, repo); err != nil {
			return err
		}
	}
	return nil
}

func pingWithRetry(ctx context.Context, maxAttempts int, logger ectologger.Logger, name string, ping func(context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		logger.WithError(err).Warnf("Failed to reach %s (attempt %d/%d)", name, attempt, maxAttempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return fmt.Errorf("failed to reach %s after %d attempts: %w", name, maxAttempts, err)
}

// newLogger builds the structured logger over a zap core.
func newLogger(cfg config.Config) ectologger.Logger {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel(cfg.LogLevel))

	zl, err := zapCfg.Build()
	if err != nil {
		zl = zap.NewNop()
	}

	return ectologger.NewEctoLogger(func(m ectologger.EctoLogMessage) {
		zl.Info("log", zap.Any("entry", m))
	})
}

// zapLevel parses the configured log level, defaulting to info.
func zapLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}
