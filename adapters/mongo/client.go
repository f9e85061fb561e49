package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	DefaultURI            = "mongodb://localhost:27017"
	DefaultDatabase       = "interviewcoach"
	DefaultAppName        = "interviewcoach-server"
	DefaultMaxPoolSize    = 20
	DefaultConnectTimeout = 10 * time.Second
	DefaultSelectTimeout  = 5 * time.Second
)

// Config configures the MongoDB connection. Zero values select the defaults.
type Config struct {
	URI             string        `mapstructure:"uri"`
	Database        string        `mapstructure:"database"`
	MaxPoolSize     uint64        `mapstructure:"max_pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	SelectTimeout   time.Duration `mapstructure:"server_selection_timeout"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// Validate validates the connection settings
func (c Config) Validate() error {
	if c.ConnectTimeout < 0 || c.SelectTimeout < 0 || c.MaxConnIdleTime < 0 {
		return errors.New("mongo timeouts cannot be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.URI == "" {
		c.URI = DefaultURI
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = DefaultMaxPoolSize
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.SelectTimeout == 0 {
		c.SelectTimeout = DefaultSelectTimeout
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = 30 * time.Minute
	}
	return c
}

// Client holds the connection and the interview database
type Client struct {
	*mongo.Client
	Database *mongo.Database
	logger   *zap.Logger
}

// NewClient connects and pings the server. The connection attempt is bounded by ConnectTimeout.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetAppName(DefaultAppName).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMaxConnIdleTime(cfg.MaxConnIdleTime).
		SetServerSelectionTimeout(cfg.SelectTimeout).
		SetConnectTimeout(cfg.ConnectTimeout)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB",
		zap.String("database", cfg.Database),
		zap.Uint64("maxPoolSize", cfg.MaxPoolSize))

	return &Client{
		Client:   client,
		Database: client.Database(cfg.Database),
		logger:   logger,
	}, nil
}

// Close disconnects from the server
func (c *Client) Close(ctx context.Context) error {
	if err := c.Client.Disconnect(ctx); err != nil {
		c.logger.Error("Failed to disconnect from MongoDB", zap.Error(err))
		return err
	}
	c.logger.Info("Disconnected from MongoDB")
	return nil
}
