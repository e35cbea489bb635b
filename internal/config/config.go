package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Security SecurityConfig
	Events   EventsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
	// SecureCookies controls the Secure flag on session/CSRF cookies.
	// Disable only for local development over plain HTTP.
	SecureCookies bool
}

// DatabaseConfig holds MySQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MongoConfig holds the event-store (MongoDB) connection configuration
type MongoConfig struct {
	URI         string
	Database    string
	Collection  string
	MaxPoolSize uint64
	MinPoolSize uint64
}

// RedisConfig holds the shared rate-limit store configuration.
// An empty Addr means rate limiting falls back to per-process memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT token configuration
type JWTConfig struct {
	AccessSecret       string
	RefreshSecret      string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
}

// SecurityConfig holds password policy and rate-limit parameters
type SecurityConfig struct {
	PasswordMinLength     int
	PasswordRequireUpper  bool
	PasswordRequireLower  bool
	PasswordRequireDigit  bool
	PasswordRequireSymbol bool

	LoginMaxAttempts int
	LoginWindow      time.Duration
	AdminCodeWindow  time.Duration

	SessionIdleTimeout time.Duration
	CSRFTokenTTL       time.Duration
	MaxFieldLength     int
}

// EventsConfig holds event-logger tuning parameters
type EventsConfig struct {
	MaxRetries    int
	RetryBaseWait time.Duration
	RetryDeadline time.Duration
	CacheTTL      time.Duration
	CacheSize     int
	DedupWindow   time.Duration
	VolumeCap     int
	VolumeWindow  time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          getEnv("SERVER_HOST", "0.0.0.0"),
			Port:          getEnv("SERVER_PORT", "8080"),
			SecureCookies: getBoolEnv("SECURE_COOKIES", true),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "3306"),
			User:            getEnv("DB_USER", "bostarter"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "bostarter"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Mongo: MongoConfig{
			URI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:    getEnv("MONGO_DB", "bostarter"),
			Collection:  getEnv("MONGO_EVENTS_COLLECTION", "events"),
			MaxPoolSize: uint64(getIntEnv("MONGO_MAX_POOL", 20)),
			MinPoolSize: uint64(getIntEnv("MONGO_MIN_POOL", 2)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			AccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
			RefreshSecret:      getEnv("JWT_REFRESH_SECRET", ""),
			AccessTokenExpiry:  getDurationEnv("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getDurationEnv("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
			Issuer:             getEnv("JWT_ISSUER", "bostarter"),
		},
		Security: SecurityConfig{
			PasswordMinLength:     getIntEnv("PASSWORD_MIN_LENGTH", 8),
			PasswordRequireUpper:  getBoolEnv("PASSWORD_REQUIRE_UPPER", true),
			PasswordRequireLower:  getBoolEnv("PASSWORD_REQUIRE_LOWER", true),
			PasswordRequireDigit:  getBoolEnv("PASSWORD_REQUIRE_DIGIT", true),
			PasswordRequireSymbol: getBoolEnv("PASSWORD_REQUIRE_SYMBOL", true),
			LoginMaxAttempts:      getIntEnv("LOGIN_MAX_ATTEMPTS", 5),
			LoginWindow:           getDurationEnv("LOGIN_WINDOW", 5*time.Minute),
			AdminCodeWindow:       getDurationEnv("ADMIN_CODE_WINDOW", 15*time.Minute),
			SessionIdleTimeout:    getDurationEnv("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			CSRFTokenTTL:          getDurationEnv("CSRF_TOKEN_TTL", 2*time.Hour),
			MaxFieldLength:        getIntEnv("MAX_FIELD_LENGTH", 1000),
		},
		Events: EventsConfig{
			MaxRetries:    getIntEnv("EVENTS_MAX_RETRIES", 3),
			RetryBaseWait: getDurationEnv("EVENTS_RETRY_BASE_WAIT", 100*time.Millisecond),
			RetryDeadline: getDurationEnv("EVENTS_RETRY_DEADLINE", 5*time.Second),
			CacheTTL:      getDurationEnv("EVENTS_CACHE_TTL", 30*time.Second),
			CacheSize:     getIntEnv("EVENTS_CACHE_SIZE", 128),
			DedupWindow:   getDurationEnv("EVENTS_DEDUP_WINDOW", 2*time.Second),
			VolumeCap:     getIntEnv("EVENTS_VOLUME_CAP", 10000),
			VolumeWindow:  getDurationEnv("EVENTS_VOLUME_WINDOW", time.Hour),
		},
	}
}

// DSN returns the MySQL connection string in go-sql-driver format
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Password +
		"@tcp(" + d.Host + ":" + d.Port + ")/" + d.DBName +
		"?parseTime=true&charset=utf8mb4&loc=UTC"
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns an integer from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getBoolEnv returns a boolean from environment variable or default
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default.
// Accepts Go duration strings ("15m") or a bare number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
