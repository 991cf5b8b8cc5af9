// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"

	// Upstream bus (live mode)
	KafkaBrokers string
	KafkaTopic   string

	// Downstream push socket
	PushEndpoint string

	// HTTP surfaces
	MetricsAddr string
	OpsAddr     string // health, recent alerts, websocket feed; empty disables

	// Telemetry UDP sink; empty disables
	TelemetryAddr string

	// Optional OTLP endpoint for lifecycle traces
	OTLPEndpoint string

	// Rules
	RulesPath         string
	RulesPollInterval time.Duration

	// Pipeline sizing
	RingCapacity      int // ingress ring (payments)
	AlertRingCapacity int // egress ring (alerts)
	ShardSoftCap      int
	GracePeriod       time.Duration

	// Alert audit trail; empty uses the in-memory store
	DatabaseURL string
}

// Defaults
const (
	DefaultKafkaBrokers      = "kafka-broker:9092"
	DefaultKafkaTopic        = "transactions.euro.v1"
	DefaultPushEndpoint      = "tcp://127.0.0.1:5555"
	DefaultMetricsAddr       = ":9090"
	DefaultOpsAddr           = ":9091"
	DefaultTelemetryAddr     = "127.0.0.1:6831"
	DefaultRulesPath         = "model_weights.json"
	DefaultRulesPollInterval = 2 * time.Second
	DefaultRingCapacity      = 16384
	DefaultAlertRingCapacity = 4096
	DefaultShardSoftCap      = 500
	DefaultGracePeriod       = time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		KafkaBrokers:      getEnv("KAFKA_BROKERS", DefaultKafkaBrokers),
		KafkaTopic:        getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		PushEndpoint:      getEnv("PUSH_ENDPOINT", DefaultPushEndpoint),
		MetricsAddr:       getEnv("METRICS_ADDR", DefaultMetricsAddr),
		OpsAddr:           getEnv("OPS_ADDR", DefaultOpsAddr),
		TelemetryAddr:     getEnv("TELEMETRY_ADDR", DefaultTelemetryAddr),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RulesPath:         getEnv("RULES_PATH", DefaultRulesPath),
		RulesPollInterval: getEnvDuration("RULES_POLL_INTERVAL", DefaultRulesPollInterval),
		RingCapacity:      getEnvInt("RING_CAPACITY", DefaultRingCapacity),
		AlertRingCapacity: getEnvInt("ALERT_RING_CAPACITY", DefaultAlertRingCapacity),
		ShardSoftCap:      getEnvInt("SHARD_SOFT_CAP", DefaultShardSoftCap),
		GracePeriod:       getEnvDuration("GRACE_PERIOD", DefaultGracePeriod),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.RingCapacity < 2 || c.RingCapacity&(c.RingCapacity-1) != 0 {
		return fmt.Errorf("RING_CAPACITY must be a power of two >= 2, got %d", c.RingCapacity)
	}
	if c.AlertRingCapacity < 2 || c.AlertRingCapacity&(c.AlertRingCapacity-1) != 0 {
		return fmt.Errorf("ALERT_RING_CAPACITY must be a power of two >= 2, got %d", c.AlertRingCapacity)
	}
	if c.ShardSoftCap < 0 {
		return fmt.Errorf("SHARD_SOFT_CAP must be >= 0, got %d", c.ShardSoftCap)
	}
	if c.KafkaBrokers == "" {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.PushEndpoint == "" {
		return fmt.Errorf("PUSH_ENDPOINT is required")
	}
	return nil
}

// Logger builds the process logger the configuration describes. Level
// parsing is forgiving — an unknown LOG_LEVEL falls back to info rather
// than failing startup over a typo. Debug level turns on source
// locations, which is too costly to leave on in production.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", "aegis")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
