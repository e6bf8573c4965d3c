package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/loomworks/loom/pkg/api"
)

type (
	// Config holds configuration settings for the engine
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Store
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		RedisPrefix   string

		// Agent provider & integration adapters
		ProviderEndpoint string
		AdapterEndpoint  string
		AgentTimeout     time.Duration
		AdapterTimeout   time.Duration

		// Step retries
		Retry api.RetryPolicy

		// Dispatch
		ParallelLimit   int
		SweepInterval   time.Duration
		SweepMaxAge     time.Duration
		ShutdownTimeout time.Duration

		// Archive
		ArchiveBucketURL string
		ArchiveAfter     time.Duration
		ArchiveInterval  time.Duration

		// Definitions loaded at startup
		DefinitionDir string

		// Terminal notifications
		NotifyURL string
	}
)

const (
	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535

	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisPrefix   = "loom"
	DefaultRedisDB       = 0

	DefaultAgentTimeout   = 30 * time.Second
	DefaultAdapterTimeout = 10 * time.Second

	DefaultRetryMaxRetries  = 2
	DefaultRetryInitBackoff = 500
	DefaultRetryMaxBackoff  = 30000
	DefaultRetryBackoffType = api.BackoffTypeExponential

	DefaultParallelLimit   = 5
	DefaultSweepInterval   = time.Minute
	DefaultSweepMaxAge     = 15 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second

	DefaultArchiveAfter    = time.Hour
	DefaultArchiveInterval = 10 * time.Minute

	MaxParallelLimit    = 1024
	MaxRetryMaxRetries  = 100
	MaxRetryInitBackoff = 24 * 60 * 60 * 1000 // 1 day in ms
	MaxRetryMaxBackoff  = MaxRetryInitBackoff
)

var (
	ErrInvalidAPIPort          = errors.New("invalid API port")
	ErrInvalidParallelLimit    = errors.New("parallel limit must be positive")
	ErrInvalidSweepMaxAge      = errors.New("sweep max age must be positive")
	ErrInvalidRetryInitBackoff = errors.New(
		"retry initial backoff must be positive",
	)
	ErrRetryMaxBackoffTooSmall = errors.New(
		"retry max backoff must be >= retry initial backoff",
	)
	ErrInvalidRetryBackoffType = errors.New("invalid retry backoff type")
)

// NewDefaultConfig creates a configuration with sensible defaults for all
// engine settings, the store, and retry behavior
func NewDefaultConfig() *Config {
	return &Config{
		APIPort:        DefaultAPIPort,
		APIHost:        DefaultAPIHost,
		LogLevel:       "info",
		RedisAddr:      DefaultRedisEndpoint,
		RedisPassword:  "",
		RedisDB:        DefaultRedisDB,
		RedisPrefix:    DefaultRedisPrefix,
		AgentTimeout:   DefaultAgentTimeout,
		AdapterTimeout: DefaultAdapterTimeout,
		Retry: api.RetryPolicy{
			MaxRetries:  DefaultRetryMaxRetries,
			InitBackoff: DefaultRetryInitBackoff,
			MaxBackoff:  DefaultRetryMaxBackoff,
			BackoffType: DefaultRetryBackoffType,
		},
		ParallelLimit:   DefaultParallelLimit,
		SweepInterval:   DefaultSweepInterval,
		SweepMaxAge:     DefaultSweepMaxAge,
		ShutdownTimeout: DefaultShutdownTimeout,
		ArchiveAfter:    DefaultArchiveAfter,
		ArchiveInterval: DefaultArchiveInterval,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	loadEnvString("API_HOST", &c.APIHost)
	loadEnvString("LOG_LEVEL", &c.LogLevel)
	loadEnvString("REDIS_ADDR", &c.RedisAddr)
	loadEnvString("REDIS_PASSWORD", &c.RedisPassword)
	loadEnvString("REDIS_PREFIX", &c.RedisPrefix)
	loadEnvString("PROVIDER_ENDPOINT", &c.ProviderEndpoint)
	loadEnvString("ADAPTER_ENDPOINT", &c.AdapterEndpoint)
	loadEnvString("ARCHIVE_BUCKET_URL", &c.ArchiveBucketURL)
	loadEnvString("DEFINITION_DIR", &c.DefinitionDir)
	loadEnvString("NOTIFY_URL", &c.NotifyURL)

	if backoffType := os.Getenv("RETRY_BACKOFF_TYPE"); backoffType != "" {
		c.Retry.BackoffType = api.BackoffType(backoffType)
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("REDIS_DB", &c.RedisDB, -1, 15); err != nil {
		return err
	}
	if err := loadEnvInt(
		"PARALLEL_LIMIT", &c.ParallelLimit, 0, MaxParallelLimit,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_MAX_RETRIES", &c.Retry.MaxRetries, -1, MaxRetryMaxRetries,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_INITIAL_BACKOFF", &c.Retry.InitBackoff, 0, MaxRetryInitBackoff,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_MAX_BACKOFF", &c.Retry.MaxBackoff, 0, MaxRetryMaxBackoff,
	); err != nil {
		return err
	}

	if err := loadEnvDuration("AGENT_TIMEOUT", &c.AgentTimeout); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"ADAPTER_TIMEOUT", &c.AdapterTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvDuration("SWEEP_INTERVAL", &c.SweepInterval); err != nil {
		return err
	}
	if err := loadEnvDuration("SWEEP_MAX_AGE", &c.SweepMaxAge); err != nil {
		return err
	}
	if err := loadEnvDuration("ARCHIVE_AFTER", &c.ArchiveAfter); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"ARCHIVE_INTERVAL", &c.ArchiveInterval,
	); err != nil {
		return err
	}
	return loadEnvDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if c.ParallelLimit <= 0 {
		return ErrInvalidParallelLimit
	}

	if c.SweepMaxAge <= 0 {
		return ErrInvalidSweepMaxAge
	}

	if c.Retry.InitBackoff <= 0 {
		return ErrInvalidRetryInitBackoff
	}

	if c.Retry.MaxBackoff < c.Retry.InitBackoff {
		return ErrRetryMaxBackoffTooSmall
	}

	if c.Retry.BackoffType != api.BackoffTypeFixed &&
		c.Retry.BackoffType != api.BackoffTypeLinear &&
		c.Retry.BackoffType != api.BackoffTypeExponential {
		return fmt.Errorf("%w: %s",
			ErrInvalidRetryBackoffType, c.Retry.BackoffType)
	}

	return nil
}

func loadEnvString(key string, dst *string) {
	if s := os.Getenv(key); s != "" {
		*dst = s
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max). Returns an error if
// the value cannot be parsed or falls outside the valid range
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = d
	return nil
}
