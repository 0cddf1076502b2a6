// Package config provides configuration management for the wallet tracker.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Collector CollectorConfig
	Scheduler SchedulerConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Port       string
	Host       string
	RequestRPS int // Per-client requests per second
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by the migration runner
func (c PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

// ClickHouseConfig holds ClickHouse configuration.
// The scan archive is optional; when disabled no connection is attempted.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds analytics cache configuration
type CacheConfig struct {
	TTL time.Duration
}

// CollectorConfig holds ranking page collection settings
type CollectorConfig struct {
	FirstPageURL    string // URL of page 1
	PageURLTemplate string // fmt template for pages >= 2, receives the page number
	DefaultPages    int
	MaxPages        int
	RequestDelay    time.Duration // Minimum delay between two page requests
	HTTPTimeout     time.Duration
	UserAgent       string
	TableID         string
	Columns         ColumnLayout
}

// ColumnLayout maps ranking table columns to wallet record fields
type ColumnLayout struct {
	Address int
	Balance int
	FirstIn int
	LastIn  int
	LastOut int
}

// SchedulerConfig holds the daily collection schedule
type SchedulerConfig struct {
	RunHourUTC   int           // Hour of day (UTC) the daily run fires
	Interval     time.Duration // When > 0, fire every Interval instead of daily
	MaxAttempts  int
	InitialDelay time.Duration // First retry backoff
	Autostart    bool
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:       getEnv("SERVER_PORT", "8080"),
			Host:       getEnv("SERVER_HOST", "0.0.0.0"),
			RequestRPS: getEnvAsInt("SERVER_REQUEST_RPS", 20),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "wallet_tracker"),
				User:           getEnv("POSTGRES_USER", "tracker"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "wallet_tracker"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", false),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("CACHE_TTL", 10*time.Minute),
		},
		Collector: CollectorConfig{
			FirstPageURL:    getEnv("RANKING_FIRST_PAGE_URL", "https://bitinfocharts.com/top-100-richest-bitcoin-addresses.html"),
			PageURLTemplate: getEnv("RANKING_PAGE_URL_TEMPLATE", "https://bitinfocharts.com/top-100-richest-bitcoin-addresses-%d.html"),
			DefaultPages:    getEnvAsInt("COLLECTOR_DEFAULT_PAGES", 20),
			MaxPages:        getEnvAsInt("COLLECTOR_MAX_PAGES", 50),
			RequestDelay:    getEnvAsDuration("COLLECTOR_REQUEST_DELAY", 2*time.Second),
			HTTPTimeout:     getEnvAsDuration("COLLECTOR_HTTP_TIMEOUT", 30*time.Second),
			UserAgent:       getEnv("COLLECTOR_USER_AGENT", "Mozilla/5.0 (compatible; wallet-tracker/1.0)"),
			TableID:         getEnv("RANKING_TABLE_ID", "tblOne"),
			Columns: ColumnLayout{
				Address: getEnvAsInt("RANKING_COL_ADDRESS", 1),
				Balance: getEnvAsInt("RANKING_COL_BALANCE", 2),
				FirstIn: getEnvAsInt("RANKING_COL_FIRST_IN", 4),
				LastIn:  getEnvAsInt("RANKING_COL_LAST_IN", 5),
				LastOut: getEnvAsInt("RANKING_COL_LAST_OUT", 8),
			},
		},
		Scheduler: SchedulerConfig{
			RunHourUTC:   getEnvAsInt("SCHEDULER_RUN_HOUR_UTC", 0),
			Interval:     getEnvAsDuration("SCHEDULER_INTERVAL", 0),
			MaxAttempts:  getEnvAsInt("SCHEDULER_MAX_ATTEMPTS", 3),
			InitialDelay: getEnvAsDuration("SCHEDULER_RETRY_DELAY", time.Minute),
			Autostart:    getEnvAsBool("SCHEDULER_AUTOSTART", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would make the collector or scheduler misbehave
func (c *Config) Validate() error {
	var problems []string

	if c.Collector.DefaultPages <= 0 {
		problems = append(problems, "COLLECTOR_DEFAULT_PAGES must be positive")
	}
	if c.Collector.MaxPages < c.Collector.DefaultPages {
		problems = append(problems, "COLLECTOR_MAX_PAGES must be >= COLLECTOR_DEFAULT_PAGES")
	}
	if c.Collector.RequestDelay < 0 {
		problems = append(problems, "COLLECTOR_REQUEST_DELAY cannot be negative")
	}
	if !strings.Contains(c.Collector.PageURLTemplate, "%d") {
		problems = append(problems, "RANKING_PAGE_URL_TEMPLATE must contain %d")
	}
	if c.Scheduler.RunHourUTC < 0 || c.Scheduler.RunHourUTC > 23 {
		problems = append(problems, "SCHEDULER_RUN_HOUR_UTC must be within 0-23")
	}
	if c.Scheduler.MaxAttempts < 1 {
		problems = append(problems, "SCHEDULER_MAX_ATTEMPTS must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
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
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
