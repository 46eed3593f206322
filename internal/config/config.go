package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       int
	LogLevel   string
	Env        string
	APIVersion string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// SQS config
	AWSRegion   string
	SQSRegion   string
	SQSQueueURL string
	SQSDLQURL   string

	// SNS config for SMS
	SNSRegion          string
	DefaultSMSSenderID string

	// Topic announcing completed dispatches; empty disables it
	AlertEventsTopicARN string

	// Auth is enabled only when a secret is configured
	JWTSecret string

	// Audience directories; an empty URL resolves from the local tables
	PartyDirectoryURL          string
	AccountDirectoryURL        string
	ServiceRequestDirectoryURL string
	DirectoryTimeout           time.Duration
	ResolveTimeout             time.Duration

	SubmitConcurrency int
	SMSRatePerSecond  float64

	// Worker config
	WorkerPollInterval time.Duration
	WorkerBatchSize    int
	WorkerMaxRetries   int

	// Requests per caller per minute
	RateLimit int
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first without overriding
// variables that are already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:       8080,
		LogLevel:   "info",
		Env:        "development",
		APIVersion: "v1",

		// Local postgres defaults
		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "postgres",
		DBName:    "alerts",
		DBSSLMode: "disable",

		// Redis defaults
		RedisHost: "localhost",
		RedisPort: 6379,

		AWSRegion: "us-east-1",

		DefaultSMSSenderID: "ALERTS",

		DirectoryTimeout: 10 * time.Second,

		SubmitConcurrency: 8,
		SMSRatePerSecond:  10,

		WorkerPollInterval: 5 * time.Second,
		WorkerBatchSize:    10,
		WorkerMaxRetries:   5,

		RateLimit: 100,
	}

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	str("LOG_LEVEL", &cfg.LogLevel)
	str("ENV", &cfg.Env)
	str("API_VERSION", &cfg.APIVersion)

	// Database config
	str("DB_HOST", &cfg.DBHost)
	str("DB_USER", &cfg.DBUser)
	str("DB_PASSWORD", &cfg.DBPassword)
	str("DB_NAME", &cfg.DBName)
	str("DB_SSLMODE", &cfg.DBSSLMode)

	// Redis config
	str("REDIS_HOST", &cfg.RedisHost)
	str("REDIS_PASSWORD", &cfg.RedisPassword)

	str("AWS_REGION", &cfg.AWSRegion)
	cfg.SQSRegion = cfg.AWSRegion
	cfg.SNSRegion = cfg.AWSRegion
	str("SQS_REGION", &cfg.SQSRegion)
	str("SQS_QUEUE_URL", &cfg.SQSQueueURL)
	str("SQS_DLQ_URL", &cfg.SQSDLQURL)
	str("SNS_REGION", &cfg.SNSRegion)
	str("DEFAULT_SMS_SENDER_ID", &cfg.DefaultSMSSenderID)
	str("ALERT_EVENTS_TOPIC_ARN", &cfg.AlertEventsTopicARN)

	str("JWT_SECRET", &cfg.JWTSecret)

	str("PARTY_DIRECTORY_URL", &cfg.PartyDirectoryURL)
	str("ACCOUNT_DIRECTORY_URL", &cfg.AccountDirectoryURL)
	str("SERVICE_REQUEST_DIRECTORY_URL", &cfg.ServiceRequestDirectoryURL)

	ints := []struct {
		key string
		dst *int
	}{
		{"PORT", &cfg.Port},
		{"DB_PORT", &cfg.DBPort},
		{"REDIS_PORT", &cfg.RedisPort},
		{"REDIS_DB", &cfg.RedisDB},
		{"SUBMIT_CONCURRENCY", &cfg.SubmitConcurrency},
		{"WORKER_BATCH_SIZE", &cfg.WorkerBatchSize},
		{"WORKER_MAX_RETRIES", &cfg.WorkerMaxRetries},
		{"RATE_LIMIT", &cfg.RateLimit},
	}
	for _, i := range ints {
		if err := intVar(i.key, i.dst); err != nil {
			return nil, err
		}
	}

	seconds := []struct {
		key string
		dst *time.Duration
	}{
		{"DIRECTORY_TIMEOUT", &cfg.DirectoryTimeout},
		{"RESOLVE_TIMEOUT", &cfg.ResolveTimeout},
		{"WORKER_POLL_INTERVAL", &cfg.WorkerPollInterval},
	}
	for _, s := range seconds {
		var n int
		if os.Getenv(s.key) == "" {
			continue
		}
		if err := intVar(s.key, &n); err != nil {
			return nil, err
		}
		*s.dst = time.Duration(n) * time.Second
	}

	if rate := os.Getenv("SMS_RATE_PER_SEC"); rate != "" {
		r, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SMS_RATE_PER_SEC: %w", err)
		}
		cfg.SMSRatePerSecond = r
	}

	return cfg, nil
}

func intVar(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
