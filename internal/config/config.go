package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Realtime broker kinds.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
	BrokerNATS   = "nats"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // Postgres; SQLite is used when empty
	SQLitePath  string
	RedisURL    string
	NATSURL     string
	Broker      string

	NotificationLimit int
	HistoryTimeout    time.Duration
	SubscribeTimeout  time.Duration
	MarkReadOnClick   bool

	// Rate limiting of writes
	RateLimitPerMinute int
	RateLimitWhitelist []string // IPs exempt from rate limiting
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	cfg, err := Parse()
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Parse is Load for callers that report errors instead of panicking.
func Parse() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := fromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/chatsync.db"),
		RedisURL:           os.Getenv("REDIS_URL"),
		NATSURL:            os.Getenv("NATS_URL"),
		NotificationLimit:  getInt("NOTIFICATION_LIMIT", 5),
		HistoryTimeout:     getDuration("HISTORY_TIMEOUT", 5*time.Second),
		SubscribeTimeout:   getDuration("SUBSCRIBE_TIMEOUT", 5*time.Second),
		MarkReadOnClick:    getEnv("MARK_READ_ON_CLICK", "false") == "true",
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	cfg.Broker = strings.ToLower(os.Getenv("REALTIME_BROKER"))
	if cfg.Broker == "" {
		switch {
		case cfg.NATSURL != "":
			cfg.Broker = BrokerNATS
		case cfg.RedisURL != "":
			cfg.Broker = BrokerRedis
		default:
			cfg.Broker = BrokerMemory
		}
	}

	// Parse whitelist (comma-separated IPs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}
	return cfg
}

// Validate reports settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Broker {
	case BrokerMemory:
	case BrokerRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the %s broker", c.Broker)
		}
	case BrokerNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required for the %s broker", c.Broker)
		}
	default:
		return fmt.Errorf("unknown REALTIME_BROKER %q", c.Broker)
	}

	// In production, require a shared database and a shared broker
	if c.Env == "production" {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.Broker == BrokerMemory {
			return fmt.Errorf("REDIS_URL or NATS_URL is required in production")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n < 1 {
		return defaultValue
	}
	return n
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
