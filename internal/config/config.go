package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type (
	// Config holds configuration settings for the pipeline service
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Stores
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		RedisPrefix   string
		BlobBucketURL string

		// Assistant collaborator
		AssistantEndpoint string
		AssistantTimeout  time.Duration

		// Engine
		HITLPollInterval time.Duration
		EventBuffer      int
		ShutdownTimeout  time.Duration
	}
)

const (
	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisDB     = 0
	DefaultRedisPrefix = "agentflow"

	DefaultBlobBucketURL = "file://./storage?create_dir=true"

	DefaultHITLPollInterval = 250 * time.Millisecond
	DefaultEventBuffer      = 64
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultAssistantTimeout = 30 * time.Second

	MaxEventBuffer = 65536
)

var (
	ErrInvalidAPIPort      = errors.New("invalid API port")
	ErrInvalidPollInterval = errors.New("HITL poll interval must be positive")
	ErrInvalidEventBuffer  = errors.New("event buffer must be positive")
)

// NewDefaultConfig creates a configuration with sensible defaults for all
// service settings
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:          DefaultAPIHost,
		APIPort:          DefaultAPIPort,
		LogLevel:         "info",
		RedisAddr:        DefaultRedisAddr,
		RedisDB:          DefaultRedisDB,
		RedisPrefix:      DefaultRedisPrefix,
		BlobBucketURL:    DefaultBlobBucketURL,
		AssistantTimeout: DefaultAssistantTimeout,
		HITLPollInterval: DefaultHITLPollInterval,
		EventBuffer:      DefaultEventBuffer,
		ShutdownTimeout:  DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.RedisAddr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.RedisPassword = password
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		c.RedisPrefix = prefix
	}
	if bucketURL := os.Getenv("BLOB_BUCKET_URL"); bucketURL != "" {
		c.BlobBucketURL = bucketURL
	}
	if endpoint := os.Getenv("ASSISTANT_ENDPOINT"); endpoint != "" {
		c.AssistantEndpoint = endpoint
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("REDIS_DB", &c.RedisDB, -1, 15); err != nil {
		return err
	}
	if err := loadEnvInt(
		"EVENT_BUFFER", &c.EventBuffer, 0, MaxEventBuffer,
	); err != nil {
		return err
	}

	if err := loadEnvDuration(
		"HITL_POLL_INTERVAL", &c.HITLPollInterval,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"ASSISTANT_TIMEOUT", &c.AssistantTimeout,
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
	if c.HITLPollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.EventBuffer <= 0 {
		return ErrInvalidEventBuffer
	}
	return nil
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max). Returns an error if
// the value cannot be parsed or falls outside the valid range
func loadEnvInt(key string, dst *int, min, max int) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if v <= min || v > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, v, min+1, max)
	}
	*dst = v
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
	if d <= 0 {
		return fmt.Errorf("invalid %s: must be positive", key)
	}
	*dst = d
	return nil
}
