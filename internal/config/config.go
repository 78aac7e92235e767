package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration parsed from the environment and an optional .env file.
type Config struct {
	App     AppConfig
	Gateway GatewayConfig
	Sync    SyncConfig
	Storage StorageConfig
	Payment PaymentConfig
	Kafka   KafkaConfig
	Logging LoggingConfig
}

type AppConfig struct {
	Port            string
	SessionID       string
	ServiceName     string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

type GatewayConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// BreakerFailures consecutive failures open the circuit for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

type SyncConfig struct {
	Debounce         time.Duration
	SnapshotDebounce time.Duration
	HydrateWorkers   int
}

type StorageConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PebbleDir     string
	SessionTTL    time.Duration
}

type PaymentConfig struct {
	CheckoutURL   string
	SuccessURL    string
	FailureURL    string
	InitialDelay  time.Duration
	MinDelay      time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	SafetyTimeout time.Duration
	WatchInterval time.Duration
	RedirectDelay time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	OrderTopic string
	GroupID    string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads .env if present, then environment variables with defaults, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Port:            getEnv("APP_PORT", "8080"),
			SessionID:       getEnv("SESSION_ID", "default"),
			ServiceName:     getEnv("OTEL_SERVICE_NAME", "storefront-sync"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Gateway: GatewayConfig{
			BaseURL:         getEnv("GATEWAY_BASE_URL", "http://localhost:9000/api/v1"),
			Token:           getEnv("GATEWAY_TOKEN", ""),
			Timeout:         getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),
			BreakerFailures: uint32(getEnvAsInt("GATEWAY_BREAKER_FAILURES", 5)),
			BreakerCooldown: getEnvAsDuration("GATEWAY_BREAKER_COOLDOWN", 30*time.Second),
		},
		Sync: SyncConfig{
			Debounce:         getEnvAsDuration("SYNC_DEBOUNCE", 400*time.Millisecond),
			SnapshotDebounce: getEnvAsDuration("SNAPSHOT_DEBOUNCE", 100*time.Millisecond),
			HydrateWorkers:   getEnvAsInt("HYDRATE_WORKERS", 4),
		},
		Storage: StorageConfig{
			Backend:       getEnv("STORE_BACKEND", "redis"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			PebbleDir:     getEnv("PEBBLE_DIR", "./data/storefront"),
			SessionTTL:    getEnvAsDuration("PAYMENT_SESSION_TTL", 30*time.Minute),
		},
		Payment: PaymentConfig{
			CheckoutURL:   getEnv("PAYMENT_CHECKOUT_URL", "https://pay.example.com/checkout.js"),
			SuccessURL:    getEnv("PAYMENT_SUCCESS_URL", "/orders/confirmation"),
			FailureURL:    getEnv("PAYMENT_FAILURE_URL", "/checkout"),
			InitialDelay:  getEnvAsDuration("PAYMENT_INITIAL_DELAY", 5*time.Second),
			MinDelay:      getEnvAsDuration("PAYMENT_MIN_DELAY", 2*time.Second),
			MaxDelay:      getEnvAsDuration("PAYMENT_MAX_DELAY", 15*time.Second),
			MaxAttempts:   getEnvAsInt("PAYMENT_MAX_ATTEMPTS", 20),
			SafetyTimeout: getEnvAsDuration("PAYMENT_SAFETY_TIMEOUT", 10*time.Minute),
			WatchInterval: getEnvAsDuration("PAYMENT_WATCH_INTERVAL", time.Second),
			RedirectDelay: getEnvAsDuration("PAYMENT_REDIRECT_DELAY", 1500*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Brokers:    getEnvAsSlice("KAFKA_BROKERS", nil),
			OrderTopic: getEnv("KAFKA_ORDER_TOPIC", "checkout-outbox"),
			GroupID:    getEnv("KAFKA_GROUP_ID", "storefront-sync"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is required")
	}
	if c.App.SessionID == "" {
		return fmt.Errorf("SESSION_ID is required")
	}
	switch c.Storage.Backend {
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case "pebble":
		if c.Storage.PebbleDir == "" {
			return fmt.Errorf("PEBBLE_DIR is required for the pebble backend")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be redis or pebble, got %q", c.Storage.Backend)
	}
	if c.Payment.MinDelay <= 0 || c.Payment.MaxDelay < c.Payment.MinDelay {
		return fmt.Errorf("PAYMENT_MIN_DELAY must be positive and not exceed PAYMENT_MAX_DELAY")
	}
	if c.Payment.MaxAttempts <= 0 {
		return fmt.Errorf("PAYMENT_MAX_ATTEMPTS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
