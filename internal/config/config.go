package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the relay service
type Config struct {
	Server      ServerConfig      `json:"server"`
	Fyers       FyersConfig       `json:"fyers"`
	Webhook     WebhookConfig     `json:"webhook"`
	Tokens      TokenConfig       `json:"tokens"`
	Idempotency IdempotencyConfig `json:"idempotency"`
	Retry       RetryConfig       `json:"retry"`
	Monitor     MonitorConfig     `json:"monitor"`
	Symbols     SymbolsConfig     `json:"symbols"`
	Journal     JournalConfig     `json:"journal"`
	Notify      NotifyConfig      `json:"notify"`
	Logging     LoggingConfig     `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `json:"port"`
	Host            string        `json:"host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	RateLimit       float64       `json:"rate_limit"` // requests per second per client
	RateBurst       int           `json:"rate_burst"`
}

// FyersConfig holds brokerage API configuration
type FyersConfig struct {
	AppID       string        `json:"app_id"`
	SecretID    string        `json:"secret_id"`
	RedirectURI string        `json:"redirect_uri"`
	AuthCode    string        `json:"auth_code"`
	PIN         string        `json:"pin"`
	BaseURL     string        `json:"base_url"`
	Timeout     time.Duration `json:"timeout"`
}

// WebhookConfig holds the inbound webhook settings
type WebhookConfig struct {
	SecretToken string `json:"secret_token"`
}

// TokenConfig holds token persistence settings. An empty StoreURL
// keeps tokens local-only.
type TokenConfig struct {
	File     string `json:"file"`
	StoreURL string `json:"store_url"`
	StoreKey string `json:"store_key"`
}

// IdempotencyConfig holds webhook replay-protection settings
type IdempotencyConfig struct {
	TTL time.Duration `json:"ttl"`
}

// RetryConfig holds provider-call retry settings
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"`
	BaseDelay     time.Duration `json:"base_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
}

// MonitorConfig holds the position monitor settings
type MonitorConfig struct {
	Enabled         bool          `json:"enabled"`
	PollingInterval time.Duration `json:"polling_interval"`
}

// SymbolsConfig holds the symbol master source
type SymbolsConfig struct {
	MasterURL string `json:"master_url"`
}

// JournalConfig holds trade journal settings
type JournalConfig struct {
	DBPath string `json:"db_path"`
}

// NotifyConfig holds the outbound alert webhook. An empty URL logs
// alerts instead of posting them.
type NotifyConfig struct {
	URL string `json:"url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"` // json or console
	File       string `json:"file"`   // empty means stdout only
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("PORT", 8080),
			Host:            getEnv("HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", "30s"),
			WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", "30s"),
			IdleTimeout:     getEnvAsDuration("IDLE_TIMEOUT", "60s"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", "10s"),
			RateLimit:       getEnvAsFloat("RATE_LIMIT", 10),
			RateBurst:       getEnvAsInt("RATE_BURST", 20),
		},
		Fyers: FyersConfig{
			AppID:       getEnv("FYERS_APP_ID", ""),
			SecretID:    getEnv("FYERS_SECRET_ID", ""),
			RedirectURI: getEnv("FYERS_REDIRECT_URI", ""),
			AuthCode:    getEnv("FYERS_AUTH_CODE", ""),
			PIN:         getEnv("FYERS_PIN", ""),
			BaseURL:     getEnv("FYERS_BASE_URL", "https://api-t1.fyers.in"),
			Timeout:     getEnvAsDuration("FYERS_TIMEOUT", "30s"),
		},
		Webhook: WebhookConfig{
			SecretToken: getEnv("WEBHOOK_SECRET_TOKEN", ""),
		},
		Tokens: TokenConfig{
			File:     getEnv("TOKENS_FILE", "tokens.json"),
			StoreURL: getEnv("TOKEN_STORE_URL", ""),
			StoreKey: getEnv("TOKEN_STORE_KEY", "tokens/tokens.json"),
		},
		Idempotency: IdempotencyConfig{
			TTL: time.Duration(getEnvAsInt64("IDEMPOTENCY_TTL_SECONDS", 86400)) * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:   getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:     getEnvAsDuration("RETRY_BASE_DELAY", "1s"),
			BackoffFactor: getEnvAsFloat("RETRY_BACKOFF_FACTOR", 2.0),
		},
		Monitor: MonitorConfig{
			Enabled:         getEnvAsBool("MONITOR_ENABLED", true),
			PollingInterval: getEnvAsDuration("POLLING_INTERVAL", "30s"),
		},
		Symbols: SymbolsConfig{
			MasterURL: getEnv("SYMBOL_MASTER_URL", "https://public.fyers.in/sym_details/NSE_FO.csv"),
		},
		Journal: JournalConfig{
			DBPath: getEnv("JOURNAL_DB_PATH", "trades.db"),
		},
		Notify: NotifyConfig{
			URL: getEnv("NOTIFICATION_URL", ""),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 10),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Fyers.AppID == "" {
		return fmt.Errorf("FYERS_APP_ID is required")
	}
	if c.Fyers.SecretID == "" {
		return fmt.Errorf("FYERS_SECRET_ID is required")
	}
	if c.Fyers.RedirectURI == "" {
		return fmt.Errorf("FYERS_REDIRECT_URI is required")
	}
	if c.Webhook.SecretToken == "" {
		return fmt.Errorf("WEBHOOK_SECRET_TOKEN is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("invalid retry max attempts: %d", c.Retry.MaxAttempts)
	}
	return nil
}

// Helper functions for environment variable parsing

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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if int64Value, err := strconv.ParseInt(value, 10, 64); err == nil {
			return int64Value
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
