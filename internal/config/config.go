// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MinTokenSecret is the shortest signing key accepted for HS256 tokens.
const MinTokenSecret = 32

type Config struct {
	Port              string
	PostgresURL       string
	TokenSecret       []byte
	TokenTTL          time.Duration
	StoreTimeout      time.Duration
	RequestTimeout    time.Duration
	BcryptCost        int
	AdminKey          string
	RedisAddr         string
	ReportCacheTTL    time.Duration
	KafkaBrokers      []string
	OrderEventsTopic  string
	StockReleaseTopic string
	WorkerGroup       string
	MigrationsPath    string
	OTLPEndpoint      string
}

// Load reads the environment. Missing required values and malformed
// durations or numbers are reported together.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		PostgresURL:       os.Getenv("POSTGRES_URL"),
		AdminKey:          os.Getenv("ADMIN_KEY"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		OrderEventsTopic:  getEnv("ORDER_EVENTS_TOPIC", "order.events"),
		StockReleaseTopic: getEnv("STOCK_RELEASE_TOPIC", "stock.release"),
		WorkerGroup:       getEnv("WORKER_GROUP", "stock-reconciler"),
		MigrationsPath:    getEnv("MIGRATIONS_PATH", "file://migrations"),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	if cfg.PostgresURL == "" {
		errs = append(errs, errors.New("POSTGRES_URL is required"))
	}

	secret := os.Getenv("TOKEN_SECRET")
	switch {
	case secret == "":
		errs = append(errs, errors.New("TOKEN_SECRET is required"))
	case len(secret) < MinTokenSecret:
		errs = append(errs, fmt.Errorf("TOKEN_SECRET must be at least %d bytes", MinTokenSecret))
	default:
		cfg.TokenSecret = []byte(secret)
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT %q is not a number", cfg.Port))
	}

	cfg.TokenTTL = getDuration("TOKEN_TTL", 24*time.Hour, &errs)
	cfg.StoreTimeout = getDuration("STORE_TIMEOUT", 5*time.Second, &errs)
	cfg.RequestTimeout = getDuration("REQUEST_TIMEOUT", 10*time.Second, &errs)
	cfg.ReportCacheTTL = getDuration("REPORT_CACHE_TTL", 30*time.Second, &errs)

	cfg.BcryptCost = bcrypt.DefaultCost
	if raw := os.Getenv("BCRYPT_COST"); raw != "" {
		cost, err := strconv.Atoi(raw)
		if err != nil || cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
		} else {
			cfg.BcryptCost = cost
		}
	}

	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Kafka reports whether brokers are configured. Without them events are
// not published and failed releases are only logged.
func (c *Config) Kafka() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s %q is not a positive duration", key, raw))
		return defaultValue
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
