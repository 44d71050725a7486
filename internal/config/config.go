// Package config provides configuration management for the activity scorer.
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
	Server      ServerConfig
	Database    DatabaseConfig
	Store       StoreConfig
	Explorer    ExplorerConfig
	Retry       RetryConfig
	Staleness   StalenessConfig
	Scoring     ScoringConfig
	Bonus       BonusConfig
	Rank        RankConfig
	Leaderboard LeaderboardConfig
	History     HistoryConfig
	RateLimit   RateLimitConfig
	Logging     LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
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

// URL returns the connection URL used by golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// StoreConfig selects the activity record backend
type StoreConfig struct {
	Backend string // "postgres" or "memory"
}

// ExplorerConfig holds block explorer API configuration
type ExplorerConfig struct {
	BaseURL           string
	TokenContract     string // token whose transfers make up the volume figure
	MaxPages          int
	PageDelay         time.Duration // courtesy delay between successful pages
	RequestTimeout    time.Duration // per attempt
	RequestsPerSecond float64
}

// RetryConfig holds per-page retry constants
type RetryConfig struct {
	MaxAttempts            int
	BaseDelay              time.Duration
	RateLimitCapMultiplier int // 429 backoff is capped at BaseDelay * RateLimitCapMultiplier
}

// StalenessConfig controls when a stored record is re-aggregated
type StalenessConfig struct {
	Threshold          time.Duration
	AggregationTimeout time.Duration
}

// ScoringConfig holds the scoring weights and multiplier factors
type ScoringConfig struct {
	TxWeight     float64
	GasWeight    float64
	DeployWeight float64
	DaysWeight   float64
	AgeWeight    float64

	OGMultiplier        float64
	BuilderMultiplier   float64
	PowerUserMultiplier float64

	DomainMultiplier      float64
	FarcasterMultiplier   float64
	FeaturedNFTMultiplier float64
	NativeNFTMultiplier   float64

	NetworkLaunchEpoch int64   // unix seconds; first tx at or before this earns the OG bonus
	PowerUserThreshold float64 // txs per day of account age
}

// BonusConfig holds identity and NFT service configuration
type BonusConfig struct {
	DomainBaseURL      string
	FarcasterBaseURL   string
	FarcasterAPIKey    string
	TrackedCollections []string
	FeaturedCollection string
	CacheTTL           time.Duration
	CacheSizeMB        int
	LookupTimeout      time.Duration
	BulkBatchSize      int
	BulkBatchDelay     time.Duration
}

// RankConfig controls rank recomputation
type RankConfig struct {
	DebounceWindow time.Duration
}

// LeaderboardConfig controls leaderboard page caching
type LeaderboardConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// HistoryConfig controls the ClickHouse score history sink
type HistoryConfig struct {
	Enabled bool
}

// RateLimitConfig holds inbound rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "activity_scorer"),
				User:           getEnv("POSTGRES_USER", "scorer"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "activity_scorer"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		},
		Explorer: ExplorerConfig{
			BaseURL:           strings.TrimRight(getEnv("EXPLORER_BASE_URL", "https://megaeth.blockscout.com"), "/"),
			TokenContract:     strings.ToLower(getEnv("EXPLORER_TOKEN_CONTRACT", "")),
			MaxPages:          getEnvAsInt("EXPLORER_MAX_PAGES", 20),
			PageDelay:         getEnvAsDuration("EXPLORER_PAGE_DELAY", 100*time.Millisecond),
			RequestTimeout:    getEnvAsDuration("EXPLORER_REQUEST_TIMEOUT", 15*time.Second),
			RequestsPerSecond: getEnvAsFloat("EXPLORER_REQUESTS_PER_SECOND", 5),
		},
		Retry: RetryConfig{
			MaxAttempts:            getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:              getEnvAsDuration("RETRY_BASE_DELAY", time.Second),
			RateLimitCapMultiplier: getEnvAsInt("RETRY_RATE_LIMIT_CAP_MULTIPLIER", 10),
		},
		Staleness: StalenessConfig{
			Threshold:          getEnvAsDuration("STALENESS_THRESHOLD", 24*time.Hour),
			AggregationTimeout: getEnvAsDuration("AGGREGATION_TIMEOUT", 2*time.Minute),
		},
		Scoring: ScoringConfig{
			TxWeight:     getEnvAsFloat("SCORE_WEIGHT_TX", 0.5),
			GasWeight:    getEnvAsFloat("SCORE_WEIGHT_GAS", 100),
			DeployWeight: getEnvAsFloat("SCORE_WEIGHT_DEPLOY", 50),
			DaysWeight:   getEnvAsFloat("SCORE_WEIGHT_DAYS", 10),
			AgeWeight:    getEnvAsFloat("SCORE_WEIGHT_AGE", 2),

			OGMultiplier:        getEnvAsFloat("SCORE_MULTIPLIER_OG", 1.5),
			BuilderMultiplier:   getEnvAsFloat("SCORE_MULTIPLIER_BUILDER", 1.2),
			PowerUserMultiplier: getEnvAsFloat("SCORE_MULTIPLIER_POWER_USER", 1.3),

			DomainMultiplier:      getEnvAsFloat("SCORE_MULTIPLIER_DOMAIN", 1.1),
			FarcasterMultiplier:   getEnvAsFloat("SCORE_MULTIPLIER_FARCASTER", 1.1),
			FeaturedNFTMultiplier: getEnvAsFloat("SCORE_MULTIPLIER_FEATURED_NFT", 1.25),
			NativeNFTMultiplier:   getEnvAsFloat("SCORE_MULTIPLIER_NATIVE_NFT", 1.1),

			NetworkLaunchEpoch: getEnvAsInt64("NETWORK_LAUNCH_EPOCH", 1739491200),
			PowerUserThreshold: getEnvAsFloat("POWER_USER_TX_PER_DAY", 50),
		},
		Bonus: BonusConfig{
			DomainBaseURL:      strings.TrimRight(getEnv("DOMAIN_SERVICE_URL", ""), "/"),
			FarcasterBaseURL:   strings.TrimRight(getEnv("FARCASTER_SERVICE_URL", ""), "/"),
			FarcasterAPIKey:    getEnv("FARCASTER_API_KEY", ""),
			TrackedCollections: getEnvAsSlice("NFT_TRACKED_COLLECTIONS", nil),
			FeaturedCollection: strings.ToLower(getEnv("NFT_FEATURED_COLLECTION", "")),
			CacheTTL:           getEnvAsDuration("BONUS_CACHE_TTL", 5*time.Minute),
			CacheSizeMB:        getEnvAsInt("BONUS_CACHE_SIZE_MB", 16),
			LookupTimeout:      getEnvAsDuration("BONUS_LOOKUP_TIMEOUT", 5*time.Second),
			BulkBatchSize:      getEnvAsInt("BONUS_BULK_BATCH_SIZE", 10),
			BulkBatchDelay:     getEnvAsDuration("BONUS_BULK_BATCH_DELAY", 200*time.Millisecond),
		},
		Rank: RankConfig{
			DebounceWindow: getEnvAsDuration("RANK_DEBOUNCE_WINDOW", 0),
		},
		Leaderboard: LeaderboardConfig{
			CacheEnabled: getEnvAsBool("LEADERBOARD_CACHE_ENABLED", true),
			CacheTTL:     getEnvAsDuration("LEADERBOARD_CACHE_TTL", 30*time.Second),
		},
		History: HistoryConfig{
			Enabled: getEnvAsBool("HISTORY_ENABLED", false),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
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

// Validate rejects configuration values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Explorer.BaseURL == "" {
		return fmt.Errorf("EXPLORER_BASE_URL must be set")
	}
	if c.Explorer.MaxPages <= 0 {
		return fmt.Errorf("EXPLORER_MAX_PAGES must be positive, got %d", c.Explorer.MaxPages)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.RateLimitCapMultiplier <= 0 {
		return fmt.Errorf("RETRY_RATE_LIMIT_CAP_MULTIPLIER must be positive, got %d", c.Retry.RateLimitCapMultiplier)
	}
	if c.Staleness.Threshold <= 0 {
		return fmt.Errorf("STALENESS_THRESHOLD must be positive")
	}
	if c.Store.Backend != "postgres" && c.Store.Backend != "memory" {
		return fmt.Errorf("STORE_BACKEND must be 'postgres' or 'memory', got %q", c.Store.Backend)
	}

	weights := map[string]float64{
		"SCORE_WEIGHT_TX":     c.Scoring.TxWeight,
		"SCORE_WEIGHT_GAS":    c.Scoring.GasWeight,
		"SCORE_WEIGHT_DEPLOY": c.Scoring.DeployWeight,
		"SCORE_WEIGHT_DAYS":   c.Scoring.DaysWeight,
		"SCORE_WEIGHT_AGE":    c.Scoring.AgeWeight,
	}
	for name, w := range weights {
		if w < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, w)
		}
	}

	// a factor below 1 would make a bonus lower the score
	factors := map[string]float64{
		"SCORE_MULTIPLIER_OG":           c.Scoring.OGMultiplier,
		"SCORE_MULTIPLIER_BUILDER":      c.Scoring.BuilderMultiplier,
		"SCORE_MULTIPLIER_POWER_USER":   c.Scoring.PowerUserMultiplier,
		"SCORE_MULTIPLIER_DOMAIN":       c.Scoring.DomainMultiplier,
		"SCORE_MULTIPLIER_FARCASTER":    c.Scoring.FarcasterMultiplier,
		"SCORE_MULTIPLIER_FEATURED_NFT": c.Scoring.FeaturedNFTMultiplier,
		"SCORE_MULTIPLIER_NATIVE_NFT":   c.Scoring.NativeNFTMultiplier,
	}
	for name, f := range factors {
		if f < 1 {
			return fmt.Errorf("%s must be >= 1, got %v", name, f)
		}
	}
	// the featured factor replaces the native one when both apply
	if c.Scoring.FeaturedNFTMultiplier < c.Scoring.NativeNFTMultiplier {
		return fmt.Errorf("SCORE_MULTIPLIER_FEATURED_NFT (%v) must be >= SCORE_MULTIPLIER_NATIVE_NFT (%v)",
			c.Scoring.FeaturedNFTMultiplier, c.Scoring.NativeNFTMultiplier)
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
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

// getEnvAsSlice splits a comma separated variable, lowercasing and dropping empty items
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
