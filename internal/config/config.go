package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port     string
	AppEnv   string
	LogLevel string

	JWTSecret string

	DBURL             string
	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBStatementCache  int
	DBAutoMigrate     bool

	EnrollmentURL         string
	EnrollmentAPIKey      string
	EnrollmentTimeoutSecs int
	RedisURL              string
	EnrollmentCacheTTL    int

	NATSURL string

	ReadTimeoutSecs    int
	WriteTimeoutSecs   int
	IdleTimeoutSecs    int
	RequestTimeoutSecs int

	RatingWriteAttempts    int
	HideDeactivatedReviews bool
	BlockSelfRating        bool
	CORSAllowedOrigins     []string
}

// Production reports whether APP_ENV selects production behaviour.
func (c Config) Production() bool {
	return c.AppEnv == "production"
}

// Load reads configuration from environment variables, applying defaults and
// validation. Outside production a .env file in the working directory is
// loaded first; variables already set win.
func Load() (Config, error) {
	if getEnv("APP_ENV", "development") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AppEnv:                 getEnv("APP_ENV", "development"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		DBURL:                  os.Getenv("DB_URL"),
		DBMaxConns:             getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:             getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:          getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:          getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs:      getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:       getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),
		DBAutoMigrate:          getEnvBool("DB_AUTO_MIGRATE", true),
		EnrollmentURL:          os.Getenv("ENROLLMENT_URL"),
		EnrollmentAPIKey:       os.Getenv("ENROLLMENT_API_KEY"),
		EnrollmentTimeoutSecs:  getEnvInt("ENROLLMENT_TIMEOUT_SECS", 3),
		RedisURL:               os.Getenv("REDIS_URL"),
		EnrollmentCacheTTL:     getEnvInt("ENROLLMENT_CACHE_TTL_SECS", 30),
		NATSURL:                os.Getenv("NATS_URL"),
		ReadTimeoutSecs:        getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:       getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:        getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		RequestTimeoutSecs:     getEnvInt("REQUEST_TIMEOUT_SECS", 10),
		RatingWriteAttempts:    getEnvInt("RATING_WRITE_ATTEMPTS", 3),
		HideDeactivatedReviews: getEnvBool("RATING_HIDE_DEACTIVATED_REVIEWERS", false),
		BlockSelfRating:        getEnvBool("RATING_BLOCK_SELF_RATING", false),
		CORSAllowedOrigins:     getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.DBURL == "" && cfg.Production() {
		return Config{}, fmt.Errorf("DB_URL is required in production")
	}
	if cfg.EnrollmentTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("ENROLLMENT_TIMEOUT_SECS must be positive")
	}
	if cfg.EnrollmentCacheTTL <= 0 {
		return Config{}, fmt.Errorf("ENROLLMENT_CACHE_TTL_SECS must be positive")
	}
	if cfg.RequestTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("REQUEST_TIMEOUT_SECS must be positive")
	}
	if cfg.RatingWriteAttempts < 1 || cfg.RatingWriteAttempts > 3 {
		return Config{}, fmt.Errorf("RATING_WRITE_ATTEMPTS must be between 1 and 3")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
