package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          App          `mapstructure:"app"`
	Logging      Logging      `mapstructure:"logging"`
	Server       Server       `mapstructure:"server"`
	Database     Database     `mapstructure:"database"`
	AI           AI           `mapstructure:"ai"`
	Resend       Resend       `mapstructure:"resend"`
	Airtable     Airtable     `mapstructure:"airtable"`
	Ingestion    Ingestion    `mapstructure:"ingestion"`
	Distribution Distribution `mapstructure:"distribution"`
	Links        Links        `mapstructure:"links"`
	Auth         Auth         `mapstructure:"auth"`
	Secrets      Secrets      `mapstructure:"secrets"`
	Messaging    Messaging    `mapstructure:"messaging"`
	PostHog      PostHog      `mapstructure:"posthog"`
	Scheduler    Scheduler    `mapstructure:"scheduler"`
}

// App holds general application configuration
type App struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"` // Public origin used for redirects and short links
	Debug   bool   `mapstructure:"debug"`
}

// Logging holds logging configuration
type Logging struct {
	Level string `mapstructure:"level"`
}

// Server holds HTTP server configuration
type Server struct {
	Host            string    `mapstructure:"host"`
	Port            int       `mapstructure:"port"`
	ReadTimeout     string    `mapstructure:"read_timeout"`
	WriteTimeout    string    `mapstructure:"write_timeout"`
	ShutdownTimeout string    `mapstructure:"shutdown_timeout"`
	CORS            CORS      `mapstructure:"cors"`
	RateLimit       RateLimit `mapstructure:"rate_limit"`
}

// CORS holds cross-origin configuration for the admin API
type CORS struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimit configures the public redirect endpoints
type RateLimit struct {
	Enabled  bool   `mapstructure:"enabled"`
	Rate     string `mapstructure:"rate"` // limiter format, e.g. "120-M"
	RedisURL string `mapstructure:"redis_url"`
}

// Database holds relational store configuration
type Database struct {
	Driver     string `mapstructure:"driver"` // "postgres" or "sqlite"; inferred from the URL when empty
	URL        string `mapstructure:"url"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DSN returns the connection string for the configured driver.
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return d.SQLitePath
}

// AI holds AI/LLM configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Timeout     string  `mapstructure:"timeout"`
	MaxTokens   int32   `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

// Resend holds email provider configuration
type Resend struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
	ReplyTo     string `mapstructure:"reply_to"`
	Timeout     string `mapstructure:"timeout"`
}

// From returns the formatted sender.
func (r Resend) From() string {
	if r.FromName == "" {
		return r.FromAddress
	}
	return fmt.Sprintf("%s <%s>", r.FromName, r.FromAddress)
}

// Airtable holds the optional article store configuration
type Airtable struct {
	APIKey   string `mapstructure:"api_key"`
	BaseID   string `mapstructure:"base_id"`
	Table    string `mapstructure:"table"`
	BaseURL  string `mapstructure:"base_url"`
	CacheTTL string `mapstructure:"cache_ttl"` // Field metadata cache lifetime
	Timeout  string `mapstructure:"timeout"`
}

// Enabled reports whether Airtable is configured as the article store.
func (a Airtable) Enabled() bool {
	return a.APIKey != "" && a.BaseID != "" && a.Table != ""
}

// Ingestion holds RSS ingestion configuration
type Ingestion struct {
	Feeds           []string `mapstructure:"feeds"`
	UserAgent       string   `mapstructure:"user_agent"`
	Timeout         string   `mapstructure:"timeout"`
	MaxAge          string   `mapstructure:"max_age"`
	MaxItemsPerFeed int      `mapstructure:"max_items_per_feed"`
	Concurrency     int      `mapstructure:"concurrency"`
	Enrich          bool     `mapstructure:"enrich"` // Fetch pages for missing summaries/images
}

// Distribution holds newsletter sending configuration
type Distribution struct {
	BatchSize           int    `mapstructure:"batch_size"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	RetryBackoff        string `mapstructure:"retry_backoff"` // Multiplied by the attempt number
	BatchPause          string `mapstructure:"batch_pause"`
	DefaultLookbackDays int    `mapstructure:"default_lookback_days"`
	MaxArticles         int    `mapstructure:"max_articles"`
	BannerURL           string `mapstructure:"banner_url"`
	UnsubscribeURL      string `mapstructure:"unsubscribe_url"`
	ShortLinks          bool   `mapstructure:"short_links"`
}

// Links holds link tracking configuration
type Links struct {
	ShortBaseURL string `mapstructure:"short_base_url"` // Defaults to app.base_url
}

// Auth holds admin authentication configuration
type Auth struct {
	AdminAPIKey       string `mapstructure:"admin_api_key"`
	AdminPasswordHash string `mapstructure:"admin_password_hash"` // bcrypt
	SessionSecret     string `mapstructure:"session_secret"`
	SessionTTL        string `mapstructure:"session_ttl"`
	CookieName        string `mapstructure:"cookie_name"`
	SecureCookie      bool   `mapstructure:"secure_cookie"`
}

// Secrets holds encryption-at-rest configuration
type Secrets struct {
	Key string `mapstructure:"key"` // base64 encoded 32 byte key
}

// Messaging holds messaging platform configuration
type Messaging struct {
	Timeout string        `mapstructure:"timeout"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Discord DiscordConfig `mapstructure:"discord"`
}

// SlackConfig holds Slack configuration
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Username   string `mapstructure:"username"`
	IconEmoji  string `mapstructure:"icon_emoji"`
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Username   string `mapstructure:"username"`
	AvatarURL  string `mapstructure:"avatar_url"`
}

// PostHog holds product analytics configuration
type PostHog struct {
	APIKey string `mapstructure:"api_key"`
	Host   string `mapstructure:"host"`
}

// Scheduler holds cron configuration
type Scheduler struct {
	IngestionSchedule string `mapstructure:"ingestion_schedule"` // cron spec, empty disables
	ReloadInterval    string `mapstructure:"reload_interval"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".letterdesk")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.name", "Letterdesk")
	viper.SetDefault("app.base_url", "http://localhost:8080")
	viper.SetDefault("app.debug", false)

	viper.SetDefault("logging.level", "info")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit.enabled", true)
	viper.SetDefault("server.rate_limit.rate", "120-M")

	viper.SetDefault("database.sqlite_path", "letterdesk.db")

	viper.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("ai.gemini.timeout", "120s")
	viper.SetDefault("ai.gemini.max_tokens", 8192)
	viper.SetDefault("ai.gemini.temperature", 0.7)

	viper.SetDefault("resend.base_url", "https://api.resend.com")
	viper.SetDefault("resend.from_name", "Letterdesk")
	viper.SetDefault("resend.timeout", "30s")

	viper.SetDefault("airtable.base_url", "https://api.airtable.com")
	viper.SetDefault("airtable.table", "Articles")
	viper.SetDefault("airtable.cache_ttl", "15m")
	viper.SetDefault("airtable.timeout", "30s")

	viper.SetDefault("ingestion.user_agent", "Letterdesk/1.0")
	viper.SetDefault("ingestion.timeout", "30s")
	viper.SetDefault("ingestion.max_age", "168h")
	viper.SetDefault("ingestion.max_items_per_feed", 50)
	viper.SetDefault("ingestion.concurrency", 4)
	viper.SetDefault("ingestion.enrich", true)

	viper.SetDefault("distribution.batch_size", 100)
	viper.SetDefault("distribution.max_attempts", 3)
	viper.SetDefault("distribution.retry_backoff", "1s")
	viper.SetDefault("distribution.batch_pause", "600ms")
	viper.SetDefault("distribution.default_lookback_days", 7)
	viper.SetDefault("distribution.max_articles", 50)
	viper.SetDefault("distribution.short_links", true)

	viper.SetDefault("auth.session_ttl", "12h")
	viper.SetDefault("auth.cookie_name", "letterdesk_session")
	viper.SetDefault("auth.secure_cookie", true)

	viper.SetDefault("messaging.timeout", "10s")
	viper.SetDefault("messaging.slack.username", "Letterdesk")
	viper.SetDefault("messaging.slack.icon_emoji", ":newspaper:")
	viper.SetDefault("messaging.discord.username", "Letterdesk")

	viper.SetDefault("posthog.host", "https://us.i.posthog.com")

	viper.SetDefault("scheduler.reload_interval", "5m")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("resend.api_key", []string{"RESEND_API_KEY"})
	bindEnvKeys("resend.from_address", []string{"RESEND_FROM_EMAIL", "EMAIL_FROM"})

	bindEnvKeys("airtable.api_key", []string{"AIRTABLE_API_KEY", "AIRTABLE_PAT"})
	bindEnvKeys("airtable.base_id", []string{"AIRTABLE_BASE_ID"})
	bindEnvKeys("airtable.table", []string{"AIRTABLE_TABLE_NAME", "AIRTABLE_TABLE"})

	bindEnvKeys("database.url", []string{"DATABASE_URL", "SUPABASE_DB_URL", "POSTGRES_URL"})

	bindEnvKeys("app.base_url", []string{"APP_BASE_URL", "PUBLIC_BASE_URL", "NEXTAUTH_URL"})

	bindEnvKeys("auth.admin_api_key", []string{"ADMIN_API_KEY"})
	bindEnvKeys("auth.admin_password_hash", []string{"ADMIN_PASSWORD_HASH"})
	bindEnvKeys("auth.session_secret", []string{"SESSION_SECRET", "NEXTAUTH_SECRET"})

	bindEnvKeys("secrets.key", []string{"SECRETS_KEY", "ENCRYPTION_KEY"})

	bindEnvKeys("server.rate_limit.redis_url", []string{"REDIS_URL"})

	bindEnvKeys("messaging.slack.webhook_url", []string{"SLACK_WEBHOOK_URL", "SLACK_WEBHOOK"})
	bindEnvKeys("messaging.discord.webhook_url", []string{"DISCORD_WEBHOOK_URL", "DISCORD_WEBHOOK"})

	bindEnvKeys("posthog.api_key", []string{"POSTHOG_API_KEY"})

	bindEnvKeys("app.debug", []string{"DEBUG", "LETTERDESK_DEBUG"})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.Database.SQLitePath != "" && config.Database.SQLitePath != ":memory:" {
		config.Database.SQLitePath = expandPath(config.Database.SQLitePath)
	}
	config.App.BaseURL = strings.TrimRight(config.App.BaseURL, "/")
	if config.Links.ShortBaseURL == "" {
		config.Links.ShortBaseURL = config.App.BaseURL
	}
	if config.App.Debug {
		config.Logging.Level = "debug"
	}

	durations := map[string]string{
		"server.read_timeout":        config.Server.ReadTimeout,
		"server.write_timeout":       config.Server.WriteTimeout,
		"server.shutdown_timeout":    config.Server.ShutdownTimeout,
		"ai.gemini.timeout":          config.AI.Gemini.Timeout,
		"resend.timeout":             config.Resend.Timeout,
		"airtable.cache_ttl":         config.Airtable.CacheTTL,
		"airtable.timeout":           config.Airtable.Timeout,
		"ingestion.timeout":          config.Ingestion.Timeout,
		"ingestion.max_age":          config.Ingestion.MaxAge,
		"distribution.retry_backoff": config.Distribution.RetryBackoff,
		"distribution.batch_pause":   config.Distribution.BatchPause,
		"auth.session_ttl":           config.Auth.SessionTTL,
		"messaging.timeout":          config.Messaging.Timeout,
		"scheduler.reload_interval":  config.Scheduler.ReloadInterval,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig checks cross-field consistency. Provider credentials are
// checked where they are used so that commands like migrate run without them.
func validateConfig(config *Config) error {
	var errors []string

	switch config.Database.Driver {
	case "", "postgres", "sqlite":
	default:
		errors = append(errors, fmt.Sprintf("Unknown database driver: %s. Supported: postgres, sqlite", config.Database.Driver))
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		errors = append(errors, fmt.Sprintf("Invalid server port: %d", config.Server.Port))
	}

	if config.Distribution.BatchSize <= 0 || config.Distribution.BatchSize > 100 {
		errors = append(errors, "distribution.batch_size must be between 1 and 100 (Resend batch limit)")
	}
	if config.Distribution.MaxAttempts <= 0 {
		errors = append(errors, "distribution.max_attempts must be positive")
	}

	if config.Auth.AdminPasswordHash != "" && config.Auth.SessionSecret == "" {
		errors = append(errors, "Session secret is required when an admin password is configured. Set SESSION_SECRET")
	}

	if config.Secrets.Key != "" {
		key, err := base64.StdEncoding.DecodeString(config.Secrets.Key)
		if err != nil || len(key) != 32 {
			errors = append(errors, "secrets.key must be a base64 encoded 32 byte key")
		}
	}

	if config.Scheduler.IngestionSchedule != "" {
		if _, err := cron.ParseStandard(config.Scheduler.IngestionSchedule); err != nil {
			errors = append(errors, fmt.Sprintf("Invalid scheduler.ingestion_schedule: %v", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Duration parses a validated duration string, returning fallback when empty.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// Convenience getters for commonly used configuration values
func GetServer() Server             { return Get().Server }
func GetDatabase() Database         { return Get().Database }
func GetAI() AI                     { return Get().AI }
func GetResend() Resend             { return Get().Resend }
func GetAirtable() Airtable         { return Get().Airtable }
func GetDistribution() Distribution { return Get().Distribution }
func GetAuth() Auth                 { return Get().Auth }
func GetMessaging() Messaging       { return Get().Messaging }
func GetBaseURL() string            { return Get().App.BaseURL }
func IsDebugMode() bool             { return Get().App.Debug }

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
