package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all process configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Endpoint set. Each entry is "url" or "url;===;base64(initPayload)".
	// Empty means use the built-in default set (defaultEndpoints).
	Endpoints []string `env:"ENTROPY_ENDPOINTS" envSeparator:","`

	// Entropy Mixer
	MessageBatchSize int `env:"MESSAGE_BATCH_SIZE" envDefault:"10"`

	// Dedup Filter
	DeduplicationMaxEntries int `env:"DEDUPLICATION_MAX_ENTRIES" envDefault:"50000000"`

	// Endpoint Subscriber. Default intentionally deviates from the
	// 100,000,000 figure in spec.md's configuration table: a Go buffered
	// channel preallocates its backing array for the full capacity up
	// front, so that value would reserve ~2.4GB per endpoint before any
	// message arrives. 100000 keeps the same drop-oldest bound semantics
	// at a sane memory footprint; see SPEC_FULL.md §6.
	MessageQueueMaxSize  int           `env:"MESSAGE_QUEUE_MAX_SIZE" envDefault:"100000"`
	ReconnectDelay       time.Duration `env:"RECONNECT_DELAY_SECONDS" envDefault:"5s"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"0"` // 0 = unbounded

	// Admission control: caps concurrent in-flight handler goroutines
	// across all subscribers.
	MessageProcessingBatch int `env:"MESSAGE_PROCESSING_BATCH" envDefault:"1000"`

	// Memory Governor
	MemoryCheckInterval    time.Duration `env:"MEMORY_CHECK_INTERVAL_SECONDS" envDefault:"60s"`
	MemoryThresholdPercent float64       `env:"MEMORY_THRESHOLD_PERCENT" envDefault:"85"`
	MemoryCriticalPercent  float64       `env:"MEMORY_CRITICAL_PERCENT" envDefault:"95"`

	StatsLogIntervalMessages int64 `env:"STATS_LOG_INTERVAL_MESSAGES" envDefault:"1000"`

	// Bus Publisher (Kafka-protocol)
	KafkaBrokers          string `env:"KAFKA_BOOTSTRAP_SERVERS"`
	KafkaTopic            string `env:"KAFKA_TOPIC" envDefault:"EntropyGen-RAWHashes_Topic1"`
	KafkaSASLUsername     string `env:"KAFKA_SASL_USERNAME"`
	KafkaSASLPassword     string `env:"KAFKA_SASL_PASSWORD"`
	KafkaSecurityProtocol string `env:"KAFKA_SECURITY_PROTOCOL" envDefault:"SASL_SSL"`
	KafkaSASLMechanism    string `env:"KAFKA_SASL_MECHANISM" envDefault:"PLAIN"`
	KafkaBatchSize        int    `env:"KAFKA_BATCH_SIZE" envDefault:"16384"`
	KafkaLingerMS         int    `env:"KAFKA_LINGER_MS" envDefault:"0"`
	KafkaCompressionType  string `env:"KAFKA_COMPRESSION_TYPE" envDefault:"snappy"`
	KafkaMaxInFlight      int    `env:"KAFKA_MAX_IN_FLIGHT_REQUESTS" envDefault:"1000"`
	KafkaBufferMemory     int64  `env:"KAFKA_BUFFER_MEMORY" envDefault:"67108864"`
	KafkaMaxBlockMS       int    `env:"KAFKA_MAX_BLOCK_MS" envDefault:"10000"`
	KafkaRetries          int    `env:"KAFKA_RETRIES" envDefault:"3"`
	KafkaMaxPublishPerSec int    `env:"KAFKA_MAX_PUBLISH_PER_SEC" envDefault:"0"`

	// Observability
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9102"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from a local .env file (optional) and
// then from environment variables, which take precedence. logger may be
// nil during early startup, before a structured logger exists.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		} else {
			fmt.Println("Info: No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("Configuration loaded and validated successfully")
	}

	return cfg, nil
}

// Validate checks configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.MessageBatchSize < 1 {
		return fmt.Errorf("MESSAGE_BATCH_SIZE must be > 0, got %d", c.MessageBatchSize)
	}
	if c.DeduplicationMaxEntries < 1 {
		return fmt.Errorf("DEDUPLICATION_MAX_ENTRIES must be > 0, got %d", c.DeduplicationMaxEntries)
	}
	if c.MessageQueueMaxSize < 1 {
		return fmt.Errorf("MESSAGE_QUEUE_MAX_SIZE must be > 0, got %d", c.MessageQueueMaxSize)
	}
	if c.MessageProcessingBatch < 1 {
		return fmt.Errorf("MESSAGE_PROCESSING_BATCH must be > 0, got %d", c.MessageProcessingBatch)
	}
	if c.MemoryThresholdPercent < 0 || c.MemoryThresholdPercent > 100 {
		return fmt.Errorf("MEMORY_THRESHOLD_PERCENT must be 0-100, got %.1f", c.MemoryThresholdPercent)
	}
	if c.MemoryCriticalPercent < 0 || c.MemoryCriticalPercent > 100 {
		return fmt.Errorf("MEMORY_CRITICAL_PERCENT must be 0-100, got %.1f", c.MemoryCriticalPercent)
	}
	if c.MemoryCriticalPercent < c.MemoryThresholdPercent {
		return fmt.Errorf("MEMORY_CRITICAL_PERCENT (%.1f) must be >= MEMORY_THRESHOLD_PERCENT (%.1f)",
			c.MemoryCriticalPercent, c.MemoryThresholdPercent)
	}
	if c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// KafkaBrokerList splits the comma-separated KafkaBrokers value.
func (c *Config) KafkaBrokerList() []string {
	result := []string{}
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// EndpointEntries returns the configured endpoint wire entries, falling
// back to the built-in default set when none were supplied.
func (c *Config) EndpointEntries() []string {
	if len(c.Endpoints) > 0 {
		return c.Endpoints
	}
	return defaultEndpoints
}

// Print logs configuration for debugging (human-readable format). For
// production use LogConfig with structured logging.
func (c *Config) Print() {
	fmt.Println("=== EntropyGen Configuration ===")
	fmt.Printf("Environment:           %s\n", c.Environment)
	fmt.Printf("Endpoints:             %d configured\n", len(c.EndpointEntries()))
	fmt.Println("\n=== Pipeline ===")
	fmt.Printf("Message Batch Size:    %d\n", c.MessageBatchSize)
	fmt.Printf("Dedup Max Entries:     %d\n", c.DeduplicationMaxEntries)
	fmt.Printf("Queue Max Size:        %d\n", c.MessageQueueMaxSize)
	fmt.Printf("Processing Batch:      %d\n", c.MessageProcessingBatch)
	fmt.Printf("Reconnect Delay:       %s\n", c.ReconnectDelay)
	fmt.Printf("Max Reconnect Attempts:%d\n", c.MaxReconnectAttempts)
	fmt.Println("\n=== Memory Governor ===")
	fmt.Printf("Check Interval:        %s\n", c.MemoryCheckInterval)
	fmt.Printf("Warning Threshold:     %.1f%%\n", c.MemoryThresholdPercent)
	fmt.Printf("Critical Threshold:    %.1f%%\n", c.MemoryCriticalPercent)
	fmt.Println("\n=== Bus Publisher ===")
	fmt.Printf("Topic:                 %s\n", c.KafkaTopic)
	fmt.Printf("Security Protocol:     %s\n", c.KafkaSecurityProtocol)
	fmt.Println("\n=== Logging ===")
	fmt.Printf("Level:                 %s\n", c.LogLevel)
	fmt.Printf("Format:                %s\n", c.LogFormat)
	fmt.Println("=================================")
}

// LogConfig logs configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Int("endpoint_count", len(c.EndpointEntries())).
		Int("message_batch_size", c.MessageBatchSize).
		Int("dedup_max_entries", c.DeduplicationMaxEntries).
		Int("message_queue_max_size", c.MessageQueueMaxSize).
		Int("message_processing_batch", c.MessageProcessingBatch).
		Dur("reconnect_delay", c.ReconnectDelay).
		Int("max_reconnect_attempts", c.MaxReconnectAttempts).
		Dur("memory_check_interval", c.MemoryCheckInterval).
		Float64("memory_threshold_percent", c.MemoryThresholdPercent).
		Float64("memory_critical_percent", c.MemoryCriticalPercent).
		Str("kafka_topic", c.KafkaTopic).
		Str("kafka_security_protocol", c.KafkaSecurityProtocol).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Msg("configuration loaded")
}
