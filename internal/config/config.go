// Package config loads the dispatcher's environment-variable
// configuration surface: which queues to serve and at what
// concurrency, Redis connectivity, logging, poll intervals, and the
// optional cron lock.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joblift/dispatch/internal/logger"
)

// Config holds everything a running dispatcher needs.
type Config struct {
	// RedisURL is the connection URL for Redis.
	RedisURL string
	// Queues is the set of queue names this process serves.
	Queues []string
	// Concurrency is the default per-queue worker count, used for any
	// queue not given an explicit override in QueueConcurrency.
	Concurrency int
	// QueueConcurrency overrides Concurrency for specific queue names.
	QueueConcurrency map[string]int

	// ScheduledPollInterval is how often the scheduled-promoter sweeps
	// schedule:<q> for due entries.
	ScheduledPollInterval time.Duration
	// CronPollInterval is how often the cron-promoter checks for due
	// cron entries.
	CronPollInterval time.Duration
	// PollTimeout is the blocking-pop timeout pollers use against
	// queue:<q>.
	PollTimeout time.Duration

	// CronLockEnabled turns on the optional distributed lock guarding
	// the cron-promoter, for fleets of more than one dispatcher
	// process sharing a Redis instance.
	CronLockEnabled bool
	CronLockTTL     time.Duration

	// ResultBackendEnabled turns on the optional job-result backend.
	ResultBackendEnabled    bool
	ResultBackendTTLSuccess time.Duration
	ResultBackendTTLFailure time.Duration

	Logging *logger.Config
}

// LoadConfig loads configuration from environment variables with
// sensible defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:                getEnv("REDIS_URL", "redis://localhost:6379"),
		Queues:                  getEnvAsStringSlice("QUEUES", []string{"default"}),
		Concurrency:             getEnvAsInt("CONCURRENCY", 5),
		QueueConcurrency:        getEnvAsIntMap("QUEUE_CONCURRENCY"),
		ScheduledPollInterval:   getEnvAsDuration("SCHEDULED_POLL_INTERVAL", time.Second),
		CronPollInterval:        getEnvAsDuration("CRON_POLL_INTERVAL", time.Second),
		PollTimeout:             getEnvAsDuration("POLL_TIMEOUT", time.Second),
		CronLockEnabled:         getEnvAsBool("CRON_LOCK_ENABLED", false),
		CronLockTTL:             getEnvAsDuration("CRON_LOCK_TTL", 10*time.Second),
		ResultBackendEnabled:    getEnvAsBool("RESULT_BACKEND_ENABLED", false),
		ResultBackendTTLSuccess: getEnvAsDuration("RESULT_BACKEND_TTL_SUCCESS", time.Hour),
		ResultBackendTTLFailure: getEnvAsDuration("RESULT_BACKEND_TTL_FAILURE", 24*time.Hour),
		Logging:                 loadLoggingConfig(),
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL cannot be empty")
	}
	if len(cfg.Queues) == 0 {
		return nil, fmt.Errorf("QUEUES must contain at least one queue name")
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("CONCURRENCY must be at least 1")
	}
	for q, c := range cfg.QueueConcurrency {
		if c < 1 {
			return nil, fmt.Errorf("QUEUE_CONCURRENCY for %q must be at least 1", q)
		}
	}

	if err := cfg.Logging.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}

	return cfg, nil
}

// ConcurrencyFor returns the configured concurrency for queue q,
// falling back to the default Concurrency when q has no override.
func (c *Config) ConcurrencyFor(q string) int {
	if n, ok := c.QueueConcurrency[q]; ok {
		return n
	}
	return c.Concurrency
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// getEnvAsIntMap parses a comma-separated list of name=value pairs,
// e.g. "default=10,reports=2", into a map. Malformed entries are
// skipped.
func getEnvAsIntMap(key string) map[string]int {
	result := make(map[string]int)
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return result
	}
	for _, pair := range strings.Split(valueStr, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		result[strings.TrimSpace(parts[0])] = n
	}
	return result
}

func loadLoggingConfig() *logger.Config {
	cfg := logger.DefaultConfig()

	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Level = logger.LogLevel(level)
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Format = logger.LogFormat(format)
	}

	cfg.Console.Enabled = getEnvAsBool("LOG_CONSOLE_ENABLED", true)
	cfg.Console.Color = getEnvAsBool("LOG_COLOR", true)
	cfg.Console.BufferSize = getEnvAsInt("LOG_CONSOLE_BUFFER_SIZE", 65536)
	cfg.Console.FlushInterval = getEnvAsDuration("LOG_CONSOLE_FLUSH_INTERVAL", 100*time.Millisecond)

	cfg.File.Enabled = getEnvAsBool("LOG_FILE_ENABLED", false)
	cfg.File.Path = getEnv("LOG_FILE_PATH", "/var/log/dispatch/dispatch.log")
	cfg.File.MaxSizeMB = getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100)
	cfg.File.MaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5)
	cfg.File.MaxAgeDays = getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30)
	cfg.File.Compress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.File.BufferSize = getEnvAsInt("LOG_FILE_BUFFER_SIZE", 10000)
	cfg.File.BatchSize = getEnvAsInt("LOG_FILE_BATCH_SIZE", 100)
	cfg.File.BatchInterval = getEnvAsDuration("LOG_FILE_BATCH_INTERVAL", 100*time.Millisecond)

	return cfg
}
