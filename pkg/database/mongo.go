package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"soapbox/pkg/logging"
)

// MongoConn represents a handle on the document store database
type MongoConn = *mongo.Database

// MongoConfig holds document store configuration
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// DefaultMongoConfig returns default document store settings
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database:       "soapbox",
		ConnectTimeout: 5 * time.Second,
	}
}

// ConnectMongo establishes a MongoDB connection and verifies it with a ping.
// The returned close function disconnects the underlying client.
func ConnectMongo(cfg MongoConfig, logger logging.Logger) (MongoConn, func(context.Context) error, error) {
	if cfg.URI == "" {
		return nil, nil, fmt.Errorf("mongodb URI is required")
	}
	if cfg.Database == "" {
		return nil, nil, fmt.Errorf("mongodb database name is required")
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.WithFields(logging.Fields{
		"database": cfg.Database,
	}).Info("MongoDB connected")

	return client.Database(cfg.Database), client.Disconnect, nil
}

// MustConnectMongo is like ConnectMongo but exits the process on error
func MustConnectMongo(cfg MongoConfig, logger logging.Logger) (MongoConn, func(context.Context) error) {
	db, closeFn, err := ConnectMongo(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to mongodb")
	}
	return db, closeFn
}
