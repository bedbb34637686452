// Package config reads all service tunables from the environment once
// at startup into a typed struct. Components receive the sub-config
// they need; nothing reads os.Getenv past this boundary.
package config

import (
	"time"

	"soapbox/pkg/config"
)

// Config is the full soapboxd configuration.
type Config struct {
	HTTPAddr string

	Postgres PostgresConfig
	Mongo    MongoConfig
	Cache    CacheConfig
	Vector   VectorConfig
	Kafka    KafkaConfig
	Resolver ResolverConfig
	Tasks    TasksConfig
}

// PostgresConfig configures the relational entity store.
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// MongoConfig configures the document content store.
type MongoConfig struct {
	URI      string
	Database string
}

// CacheConfig configures the cache layer. When Enabled is false the
// disabled implementation is wired and Redis settings are ignored.
type CacheConfig struct {
	Enabled  bool
	Addrs    []string
	Password string
	DB       int

	ShortTTL    time.Duration
	MediumTTL   time.Duration
	StandardTTL time.Duration

	ActivityMaxLen int

	// AlertTopics are subscribed on startup; alert events for them are
	// surfaced in the logs.
	AlertTopics []string
}

// VectorConfig configures the in-process vector index.
type VectorConfig struct {
	Dimension int
}

// KafkaConfig configures the task transport.
type KafkaConfig struct {
	Brokers  []string
	GroupID  string
	ClientID string
}

// ResolverConfig configures the cross-reference resolver sweep.
type ResolverConfig struct {
	SweepInterval time.Duration
	SweepLimit    int
	OrphanAfter   time.Duration
	MaxAttempts   int
}

// TasksConfig configures cross-delivery task retry behavior.
type TasksConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		HTTPAddr: config.GetEnv("HTTP_ADDR", ":8080"),
		Postgres: PostgresConfig{
			URL:          config.RequireEnv("DATABASE_URL"),
			MaxOpenConns: config.GetEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: config.GetEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		Mongo: MongoConfig{
			URI:      config.RequireEnv("MONGODB_URI"),
			Database: config.GetEnv("MONGODB_DATABASE", "soapbox"),
		},
		Cache: CacheConfig{
			Enabled:        config.GetEnvBool("CACHE_ENABLED", true),
			Addrs:          config.GetEnvSlice("REDIS_ADDRS", []string{"localhost:6379"}),
			Password:       config.GetEnv("REDIS_PASSWORD", ""),
			DB:             config.GetEnvInt("REDIS_DB", 0),
			ShortTTL:       config.GetEnvDuration("CACHE_TTL_SHORT", 5*time.Minute),
			MediumTTL:      config.GetEnvDuration("CACHE_TTL_MEDIUM", 30*time.Minute),
			StandardTTL:    config.GetEnvDuration("CACHE_TTL_STANDARD", time.Hour),
			ActivityMaxLen: config.GetEnvInt("CACHE_ACTIVITY_MAX", 1000),
			AlertTopics:    config.GetEnvSlice("ALERT_TOPICS", nil),
		},
		Vector: VectorConfig{
			Dimension: config.GetEnvInt("VECTOR_DIMENSION", 384),
		},
		Kafka: KafkaConfig{
			Brokers:  config.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID:  config.GetEnv("KAFKA_GROUP_ID", "soapbox-workers"),
			ClientID: config.GetEnv("KAFKA_CLIENT_ID", "soapboxd"),
		},
		Resolver: ResolverConfig{
			SweepInterval: config.GetEnvDuration("RESOLVER_SWEEP_INTERVAL", time.Minute),
			SweepLimit:    config.GetEnvInt("RESOLVER_SWEEP_LIMIT", 500),
			OrphanAfter:   config.GetEnvDuration("RESOLVER_ORPHAN_AFTER", 72*time.Hour),
			MaxAttempts:   config.GetEnvInt("RESOLVER_MAX_ATTEMPTS", 48),
		},
		Tasks: TasksConfig{
			MaxAttempts: config.GetEnvInt("TASK_MAX_ATTEMPTS", 5),
			BackoffBase: config.GetEnvDuration("TASK_BACKOFF_BASE", 2*time.Second),
			BackoffMax:  config.GetEnvDuration("TASK_BACKOFF_MAX", time.Minute),
		},
	}
}
