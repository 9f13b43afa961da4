package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds the walletd configuration.
type Config struct {
	Environment string
	HTTPAddr    string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	KafkaBrokers []string
	KafkaTopic   string

	RedisAddr           string
	RateLimitCapacity   int
	RateLimitRefillRate float64

	MaxBodyBytes int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getenv("APP_ENV", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		StoreDriver: getenv("STORE_DRIVER", DriverPostgres),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getenv("SQLITE_PATH", "walletd.db"),
		KafkaTopic:  getenv("KAFKA_TOPIC", "wallet.operations"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),

		RateLimitCapacity:   getenvInt("RATE_LIMIT_CAPACITY", 20),
		RateLimitRefillRate: float64(getenvInt("RATE_LIMIT_REFILL_PER_SEC", 10)),

		MaxBodyBytes: int64(getenvInt("MAX_BODY_BYTES", 1<<20)),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is complete for its driver.
func (c *Config) Validate() error {
	var missing []string

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	case DriverMemory:
	default:
		return errors.New("STORE_DRIVER must be one of postgres, sqlite, memory")
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		missing = append(missing, "KAFKA_TOPIC")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	return nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
