package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/mongo"
	"github.com/lalithlochan/herald/internal/redis"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Env      string `env:"ENV" envDefault:"development"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// Database
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"herald"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" envDefault:"herald"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	DBMaxConns int32  `env:"DB_MAX_CONNS" envDefault:"25"`

	Mongo mongo.Config

	// Redis config
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// AWS Services
	AWSRegion    string `env:"AWS_REGION" envDefault:"us-east-1"`
	SESEnabled   bool   `env:"SES_ENABLED" envDefault:"false"`
	SESFromEmail string `env:"SES_FROM_EMAIL" envDefault:"noreply@herald.local"`
	SNSEnabled   bool   `env:"SNS_ENABLED" envDefault:"false"`
	SNSRegion    string `env:"SNS_REGION"` // defaults to AWS_REGION
	SQSRegion    string `env:"SQS_REGION"` // defaults to AWS_REGION
	SQSQueueURL  string `env:"SQS_QUEUE_URL"`

	// Engine
	SendTimeout       time.Duration `env:"SEND_TIMEOUT" envDefault:"10s"`
	FanoutConcurrency int           `env:"FANOUT_CONCURRENCY" envDefault:"8"`
	BatchInterval     time.Duration `env:"BATCH_INTERVAL" envDefault:"1h"`
	BatchDailyAt      string        `env:"BATCH_DAILY_AT"` // HH:MM UTC, overrides BATCH_INTERVAL
	BatchLockTTL      time.Duration `env:"BATCH_LOCK_TTL" envDefault:"10m"`

	RateLimit       int           `env:"RATE_LIMIT" envDefault:"100"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	CircuitMaxFailures     int           `env:"CIRCUIT_MAX_FAILURES" envDefault:"5"`
	CircuitRecoveryTimeout time.Duration `env:"CIRCUIT_RECOVERY_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.SQSRegion == "" {
		cfg.SQSRegion = cfg.AWSRegion
	}
	if cfg.SNSRegion == "" {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the gateway cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres, StoreMongo, StoreMemory:
	default:
		return fmt.Errorf("%w: STORE_DRIVER must be one of postgres, mongo, memory; got %q", ErrInvalidConfig, c.StoreDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: PORT %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.FanoutConcurrency <= 0 {
		return fmt.Errorf("%w: FANOUT_CONCURRENCY must be positive", ErrInvalidConfig)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("%w: SEND_TIMEOUT must be positive", ErrInvalidConfig)
	}
	if c.BatchDailyAt == "" && c.BatchInterval <= 0 {
		return fmt.Errorf("%w: BATCH_INTERVAL must be positive", ErrInvalidConfig)
	}
	if _, _, err := c.DailyBatchTime(); err != nil {
		return err
	}
	if c.RateLimit <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: RATE_LIMIT and RATE_LIMIT_WINDOW must be positive", ErrInvalidConfig)
	}
	if c.SESEnabled && c.SESFromEmail == "" {
		return fmt.Errorf("%w: SES_FROM_EMAIL is required when SES is enabled", ErrInvalidConfig)
	}
	return nil
}

// DailyBatchTime parses BATCH_DAILY_AT. hour and minute are -1 when it is unset.
func (c *Config) DailyBatchTime() (hour, minute int, err error) {
	if c.BatchDailyAt == "" {
		return -1, -1, nil
	}
	t, err := time.Parse("15:04", c.BatchDailyAt)
	if err != nil {
		return -1, -1, fmt.Errorf("%w: BATCH_DAILY_AT must be HH:MM, got %q", ErrInvalidConfig, c.BatchDailyAt)
	}
	return t.Hour(), t.Minute(), nil
}

func (c *Config) Postgres() db.Config {
	return db.Config{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Database: c.DBName,
		SSLMode:  c.DBSSLMode,
		MaxConns: c.DBMaxConns,
	}
}

func (c *Config) Redis() redis.Config {
	return redis.Config{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func (c *Config) RateLimitConfig() redis.RateLimitConfig {
	return redis.RateLimitConfig{Limit: c.RateLimit, Window: c.RateLimitWindow}
}
