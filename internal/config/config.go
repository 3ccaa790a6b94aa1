package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all gateway configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Engine   EngineConfig
	Logging  LoggingConfig
}

// ServerConfig contains HTTP-shell configuration.
type ServerConfig struct {
	Port            string
	APIPrefix       string
	HTTPServer      string
	SocketEnabled   bool
	ShutdownTimeout time.Duration
}

// DatabaseConfig contains database connection configuration.
type DatabaseConfig struct {
	URL             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// EngineConfig contains Session Lifecycle Engine tuning knobs.
type EngineConfig struct {
	SecretKey                      string
	SessionLockTTL                 time.Duration
	QRWaitTimeout                  time.Duration
	SendWaitTimeout                time.Duration
	WarmupWaitTimeout              time.Duration
	DefaultCountryPrefix           string
	HeartbeatInterval              time.Duration
	ReconnectBaseDelay             time.Duration
	ReconnectMaxDelay              time.Duration
	ReconnectMaxAttemptsForBackoff int
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, optionally seeded by a
// local .env file, and validates the required fields.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			APIPrefix:       getEnv("API_PREFIX", "/api/v1"),
			HTTPServer:      getEnv("HTTP_SERVER", "gin"),
			SocketEnabled:   getEnvBool("SOCKET_ENABLED", true),
			ShutdownTimeout: getEnvSeconds("SHUTDOWN_TIMEOUT_SECONDS", 30),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvSeconds("DB_CONN_MAX_LIFETIME_SECONDS", 3600),
		},
		Engine: EngineConfig{
			SecretKey:                      getEnv("SECRET_KEY", ""),
			SessionLockTTL:                 getEnvSeconds("SESSION_LOCK_TTL_SECONDS", 300),
			QRWaitTimeout:                  getEnvSeconds("QR_WAIT_TIMEOUT_SECONDS", 60),
			SendWaitTimeout:                getEnvSeconds("SEND_WAIT_TIMEOUT_SECONDS", 20),
			WarmupWaitTimeout:              getEnvSeconds("WARMUP_WAIT_TIMEOUT_SECONDS", 15),
			DefaultCountryPrefix:           getEnv("DEFAULT_COUNTRY_PREFIX", "62"),
			HeartbeatInterval:              getEnvSeconds("HEARTBEAT_INTERVAL_SECONDS", 25),
			ReconnectBaseDelay:             time.Second,
			ReconnectMaxDelay:              30 * time.Second,
			ReconnectMaxAttemptsForBackoff: 5,
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

// Validate enforces the environment inputs the spec marks as required.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Engine.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	return nil
}

// GetServerAddress returns the full listen address.
func (c *Config) GetServerAddress() string {
	return ":" + c.Server.Port
}

// Helper functions to get environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return time.Duration(parsed) * time.Second
		}
	}
	return time.Duration(defaultSeconds) * time.Second
}
