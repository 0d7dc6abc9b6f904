package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// It is the single source of truth for runtime parameters.
type Config struct {
	Port string
	Env  string

	DB         DatabaseConfig
	Redis      RedisConfig
	AdPlatform AdPlatformConfig
	Token      TokenConfig
	Ingest     IngestConfig
	Admin      AdminConfig
}

// DatabaseConfig contains PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig contains Redis connection parameters. Redis is optional: an
// empty Host disables the dedup key cache and the cross-replica refresh lock.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Enabled reports whether a Redis host has been configured.
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// AdPlatformConfig contains the ad platform S2S endpoints and app credentials.
type AdPlatformConfig struct {
	ReportURL  string
	RefreshURL string
	AppID      string
	AppSecret  string
	Timeout    time.Duration
}

// TokenConfig controls the access/refresh token lifecycle.
type TokenConfig struct {
	RefreshInterval   time.Duration
	RetryDelay        time.Duration
	MaxRetries        int
	RefreshTokenTTL   time.Duration
	RefreshOnStart    bool
	RefreshLockTTL    time.Duration
	BootstrapAccess   string
	BootstrapRefresh  string
	BootstrapExpireIn int
}

// IngestConfig contains tuning for the conversion ingest endpoints.
type IngestConfig struct {
	DedupCacheTTL  time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// AdminConfig contains settings for the administrative routes.
type AdminConfig struct {
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
	// AllowedOrigins are the dashboard origins allowed by CORS.
	AllowedOrigins []string
}

// Load reads configuration from environment variables. If a .env file exists
// in the working directory, it will be loaded first.
func Load() (*Config, error) {
	// Missing .env is fine: production relies on real environment variables.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Port = getEnv("PORT", "8080")
	cfg.Env = getEnv("ENV", "development")

	cfg.DB = loadDatabase()

	cfg.Redis = RedisConfig{
		Host:     getEnv("REDIS_HOST", ""),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}

	cfg.AdPlatform = AdPlatformConfig{
		ReportURL:  getEnv("ADPLATFORM_REPORT_URL", ""),
		RefreshURL: getEnv("ADPLATFORM_REFRESH_URL", ""),
		AppID:      getEnv("ADPLATFORM_APP_ID", ""),
		AppSecret:  getEnv("ADPLATFORM_APP_SECRET", ""),
	}

	cfg.Token = TokenConfig{
		MaxRetries:        getEnvInt("TOKEN_REFRESH_MAX_RETRIES", 3),
		RefreshOnStart:    getEnvBool("TOKEN_REFRESH_ON_START", false),
		BootstrapAccess:   getEnv("TOKEN_BOOTSTRAP_ACCESS", ""),
		BootstrapRefresh:  getEnv("TOKEN_BOOTSTRAP_REFRESH", ""),
		BootstrapExpireIn: getEnvInt("TOKEN_BOOTSTRAP_EXPIRES_IN", 0),
	}

	cfg.Ingest = IngestConfig{
		RateLimitRPS:   getEnvFloat("INGEST_RATE_LIMIT_RPS", 0),
		RateLimitBurst: getEnvInt("INGEST_RATE_LIMIT_BURST", 200),
	}

	cfg.Admin = AdminConfig{
		JWTSecret:      getEnv("ADMIN_JWT_SECRET", ""),
		RateLimitRPS:   getEnvFloat("ADMIN_RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("ADMIN_RATE_LIMIT_BURST", 10),
		AllowedOrigins: getEnvList("ADMIN_ALLOWED_ORIGINS"),
	}

	var err error
	if cfg.AdPlatform.Timeout, err = parseDurationEnv("ADPLATFORM_TIMEOUT", "5s"); err != nil {
		return nil, fmt.Errorf("invalid ADPLATFORM_TIMEOUT: %w", err)
	}
	if cfg.Token.RefreshInterval, err = parseDurationEnv("TOKEN_REFRESH_INTERVAL", "12h"); err != nil {
		return nil, fmt.Errorf("invalid TOKEN_REFRESH_INTERVAL: %w", err)
	}
	if cfg.Token.RetryDelay, err = parseDurationEnv("TOKEN_REFRESH_RETRY_DELAY", "5m"); err != nil {
		return nil, fmt.Errorf("invalid TOKEN_REFRESH_RETRY_DELAY: %w", err)
	}
	if cfg.Token.RefreshTokenTTL, err = parseDurationEnv("TOKEN_REFRESH_TTL", "720h"); err != nil {
		return nil, fmt.Errorf("invalid TOKEN_REFRESH_TTL: %w", err)
	}
	if cfg.Token.RefreshLockTTL, err = parseDurationEnv("TOKEN_REFRESH_LOCK_TTL", "1m"); err != nil {
		return nil, fmt.Errorf("invalid TOKEN_REFRESH_LOCK_TTL: %w", err)
	}
	if cfg.Ingest.DedupCacheTTL, err = parseDurationEnv("DEDUP_CACHE_TTL", "72h"); err != nil {
		return nil, fmt.Errorf("invalid DEDUP_CACHE_TTL: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only the DB_* variables, for tools that need nothing
// else (migrations).
func LoadDatabase() (*DatabaseConfig, error) {
	_ = godotenv.Load()

	db := loadDatabase()
	if db.Host == "" || db.User == "" || db.Name == "" {
		return nil, errDatabaseIncomplete
	}
	return &db, nil
}

var errDatabaseIncomplete = errors.New("database configuration incomplete: ensure DB_HOST, DB_USER, and DB_NAME are set")

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", ""),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", ""),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", ""),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func (c *Config) validate() error {
	if c.DB.Host == "" || c.DB.User == "" || c.DB.Name == "" {
		return errDatabaseIncomplete
	}
	if c.AdPlatform.ReportURL == "" || c.AdPlatform.RefreshURL == "" {
		return errors.New("ad platform configuration incomplete: ensure ADPLATFORM_REPORT_URL and ADPLATFORM_REFRESH_URL are set")
	}
	if c.AdPlatform.AppID == "" || c.AdPlatform.AppSecret == "" {
		return errors.New("ADPLATFORM_APP_ID and ADPLATFORM_APP_SECRET must be set for token refresh")
	}
	if c.Token.RefreshInterval == 0 {
		return errors.New("TOKEN_REFRESH_INTERVAL must be greater than zero")
	}
	if c.Token.MaxRetries < 0 {
		return errors.New("TOKEN_REFRESH_MAX_RETRIES must be >= 0")
	}
	if c.Admin.JWTSecret == "" {
		return errors.New("ADMIN_JWT_SECRET must be set to protect admin routes")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default if empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the value of an environment variable as an integer or a default if empty/invalid.
func getEnvInt(key string, def int) int {
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

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// parseDurationEnv reads an environment variable and parses it as time.Duration.
// If the variable is empty, it falls back to the provided default value.
func parseDurationEnv(key, def string) (time.Duration, error) {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}
