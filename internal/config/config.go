package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Store backends
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Cursor backends
const (
	CursorStore = "store"
	CursorRedis = "redis"
	CursorBlob  = "blob"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Persistence
	StoreBackend  string
	DatabasePath  string
	CursorBackend string
	RedisURL      string
	KeywordsFile  string

	// Azure Storage configuration
	StorageAccount   string
	StorageContainer string

	// Supervision
	ReconcileSchedule string
	StopTimeout       time.Duration
	FetchTimeout      time.Duration
	RetryBackoff      time.Duration
	MaxRetryBackoff   time.Duration
	SeenCacheSize     int
	SeenCacheTTL      time.Duration

	// Sources
	EnableHackerNews         bool
	HackerNewsInterval       time.Duration
	EnableHackerNewsStream   bool
	HackerNewsStreamInterval time.Duration
	EnableReddit             bool
	RedditInterval           time.Duration
	RedditClientID           string
	RedditClientSecret       string
	RedditUserAgent          string
	EnableStackOverflow      bool
	StackOverflowInterval    time.Duration
	StackOverflowAPIKey      string
	EnableTwitter            bool
	TwitterInterval          time.Duration
	TwitterBearerToken       string
	EnableYouTube            bool
	YouTubeInterval          time.Duration
	YouTubeAPIKey            string
	SourceRateLimit          float64

	// Notification configuration
	NotificationsEnabled bool
	TeamsWebhookURL      string
	NotificationEmail    string
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", StoreSQLite)),
		DatabasePath:  getEnv("DATABASE_PATH", "mentions.db"),
		CursorBackend: strings.ToLower(getEnv("CURSOR_BACKEND", CursorStore)),
		RedisURL:      getEnv("REDIS_URL", ""),
		KeywordsFile:  getEnv("KEYWORDS_FILE", ""),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "mentions"),

		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 5s"),
		StopTimeout:       getDurationEnv("STOP_TIMEOUT", 10*time.Second),
		FetchTimeout:      getDurationEnv("FETCH_TIMEOUT", 60*time.Second),
		RetryBackoff:      getDurationEnv("RETRY_BACKOFF", 5*time.Second),
		MaxRetryBackoff:   getDurationEnv("MAX_RETRY_BACKOFF", 5*time.Minute),
		SeenCacheSize:     getIntEnv("SEEN_CACHE_SIZE", 10000),
		SeenCacheTTL:      getDurationEnv("SEEN_CACHE_TTL", time.Hour),

		EnableHackerNews:         getBoolEnv("ENABLE_HACKERNEWS", true),
		HackerNewsInterval:       getDurationEnv("HACKERNEWS_INTERVAL", time.Minute),
		EnableHackerNewsStream:   getBoolEnv("ENABLE_HACKERNEWS_STREAM", false),
		HackerNewsStreamInterval: getDurationEnv("HACKERNEWS_STREAM_INTERVAL", 10*time.Second),
		EnableReddit:             getBoolEnv("ENABLE_REDDIT", true),
		RedditInterval:           getDurationEnv("REDDIT_INTERVAL", time.Minute),
		RedditClientID:           getEnv("REDDIT_CLIENT_ID", ""),
		RedditClientSecret:       getEnv("REDDIT_CLIENT_SECRET", ""),
		RedditUserAgent:          getEnv("REDDIT_USER_AGENT", ""),
		EnableStackOverflow:      getBoolEnv("ENABLE_STACKOVERFLOW", false),
		StackOverflowInterval:    getDurationEnv("STACKOVERFLOW_INTERVAL", 5*time.Minute),
		StackOverflowAPIKey:      getEnv("STACKOVERFLOW_API_KEY", ""),
		EnableTwitter:            getBoolEnv("ENABLE_TWITTER", false),
		TwitterInterval:          getDurationEnv("TWITTER_INTERVAL", 5*time.Minute),
		TwitterBearerToken:       getEnv("TWITTER_BEARER_TOKEN", ""),
		EnableYouTube:            getBoolEnv("ENABLE_YOUTUBE", false),
		YouTubeInterval:          getDurationEnv("YOUTUBE_INTERVAL", 15*time.Minute),
		YouTubeAPIKey:            getEnv("YOUTUBE_API_KEY", ""),
		SourceRateLimit:          getFloatEnv("SOURCE_RATE_LIMIT", 1),

		NotificationsEnabled: getBoolEnv("NOTIFICATIONS_ENABLED", true),
		TeamsWebhookURL:      getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail:    getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:             getEnv("SMTP_HOST", ""),
		SMTPPort:             getIntEnv("SMTP_PORT", 587),
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required for the sqlite store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be '%s' or '%s'", StoreSQLite, StoreMemory)
	}

	switch c.CursorBackend {
	case CursorStore:
	case CursorRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CURSOR_BACKEND is redis")
		}
	case CursorBlob:
		if c.StorageAccount == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT is required when CURSOR_BACKEND is blob")
		}
	default:
		return fmt.Errorf("CURSOR_BACKEND must be one of '%s', '%s' or '%s'", CursorStore, CursorRedis, CursorBlob)
	}

	if _, err := cron.ParseStandard(c.ReconcileSchedule); err != nil {
		return fmt.Errorf("invalid RECONCILE_SCHEDULE %q: %w", c.ReconcileSchedule, err)
	}

	durations := map[string]time.Duration{
		"STOP_TIMEOUT":               c.StopTimeout,
		"FETCH_TIMEOUT":              c.FetchTimeout,
		"RETRY_BACKOFF":              c.RetryBackoff,
		"MAX_RETRY_BACKOFF":          c.MaxRetryBackoff,
		"SEEN_CACHE_TTL":             c.SeenCacheTTL,
		"HACKERNEWS_INTERVAL":        c.HackerNewsInterval,
		"HACKERNEWS_STREAM_INTERVAL": c.HackerNewsStreamInterval,
		"REDDIT_INTERVAL":            c.RedditInterval,
		"STACKOVERFLOW_INTERVAL":     c.StackOverflowInterval,
		"TWITTER_INTERVAL":           c.TwitterInterval,
		"YOUTUBE_INTERVAL":           c.YouTubeInterval,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		return fmt.Errorf("MAX_RETRY_BACKOFF must not be smaller than RETRY_BACKOFF")
	}
	if c.SeenCacheSize <= 0 {
		return fmt.Errorf("SEEN_CACHE_SIZE must be positive")
	}
	if c.SourceRateLimit <= 0 {
		return fmt.Errorf("SOURCE_RATE_LIMIT must be positive")
	}

	if c.EnableTwitter && c.TwitterBearerToken == "" {
		return fmt.Errorf("TWITTER_BEARER_TOKEN is required when ENABLE_TWITTER is set")
	}
	if c.EnableYouTube && c.YouTubeAPIKey == "" {
		return fmt.Errorf("YOUTUBE_API_KEY is required when ENABLE_YOUTUBE is set")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// NotificationChannels reports whether any notification channel is configured
func (c *Config) NotificationChannels() bool {
	return c.TeamsWebhookURL != "" || c.NotificationEmail != ""
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("90s") or a bare number of seconds
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
