package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	connectTimeout = 10 * time.Second
	selectTimeout  = 5 * time.Second
)

// Client owns the connection to the content database. The gateway only reads
// prepared articles, so the pool stays small and reads may go to secondaries.
type Client struct {
	client   *mongo.Client
	Database *mongo.Database
	logger   *zap.Logger
}

// NewClient connects to the content database and verifies the connection
// with a ping before returning.
func NewClient(uri, database string, logger *zap.Logger) (*Client, error) {
	if uri == "" {
		return nil, errors.New("content database uri is required")
	}
	if database == "" {
		database = "sori"
	}

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(8).
		SetServerSelectionTimeout(selectTimeout).
		SetConnectTimeout(connectTimeout).
		SetReadPreference(readpref.SecondaryPreferred())

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to content database: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("content database unreachable: %w", err)
	}

	logger.Info("Connected to content database", zap.String("database", database))

	return &Client{
		client:   client,
		Database: client.Database(database),
		logger:   logger,
	}, nil
}

// Close disconnects from the content database.
func (c *Client) Close(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from content database: %w", err)
	}
	c.logger.Info("Content database connection closed")
	return nil
}
