package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	JWT      JWTConfig
	Upstream UpstreamConfig
	Engine   EngineConfig
	Database DatabaseConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Port     int
	Env      string
	LogLevel string
	Location *time.Location

	AllowedOrigins []string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
}

// UpstreamConfig points the agent at the HRIS attendance API.
type UpstreamConfig struct {
	BaseURL        string
	Timeout        time.Duration
	ReadRetries    int
	RetryBaseDelay time.Duration
}

// EngineConfig tunes the attendance sessions.
type EngineConfig struct {
	PollInterval       time.Duration
	TickInterval       time.Duration
	SessionIdleTimeout time.Duration
	DefaultTolerance   attendance.ToleranceSettings
}

// DatabaseConfig is optional. When set, history is read from the HRIS
// database instead of the upstream API.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// Load reads configuration from the environment, after loading the given
// dotenv files (".env" when none are given). A missing file is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	config := &Config{}

	// Application configuration
	appPort, err := strconv.Atoi(getEnv("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}
	loc, err := time.LoadLocation(getEnv("APP_TIMEZONE", "Asia/Jakarta"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE: %w", err)
	}

	config.App = AppConfig{
		Port:     appPort,
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Location: loc,

		AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS"),
	}

	// JWT configuration
	config.JWT = JWTConfig{
		Secret: getEnv("JWT_SECRET_KEY", ""),
	}

	// Upstream configuration
	config.Upstream.BaseURL = getEnv("UPSTREAM_BASE_URL", "")
	if config.Upstream.Timeout, err = getDuration("UPSTREAM_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if config.Upstream.ReadRetries, err = getInt("UPSTREAM_READ_RETRIES", "3"); err != nil {
		return nil, err
	}
	if config.Upstream.RetryBaseDelay, err = getDuration("UPSTREAM_RETRY_BASE_DELAY", "200ms"); err != nil {
		return nil, err
	}

	// Engine configuration
	if config.Engine.PollInterval, err = getDuration("POLL_INTERVAL", "30s"); err != nil {
		return nil, err
	}
	if config.Engine.TickInterval, err = getDuration("TICK_INTERVAL", "1s"); err != nil {
		return nil, err
	}
	if config.Engine.SessionIdleTimeout, err = getDuration("SESSION_IDLE_TIMEOUT", "30m"); err != nil {
		return nil, err
	}

	tol := attendance.DefaultTolerance()
	if tol.CheckinBeforeShiftMinutes, err = getInt("CHECKIN_BEFORE_SHIFT_MINUTES", strconv.Itoa(tol.CheckinBeforeShiftMinutes)); err != nil {
		return nil, err
	}
	if tol.LateToleranceMinutes, err = getInt("LATE_TOLERANCE_MINUTES", strconv.Itoa(tol.LateToleranceMinutes)); err != nil {
		return nil, err
	}
	if tol.CheckoutAfterShiftMinutes, err = getInt("CHECKOUT_AFTER_SHIFT_MINUTES", strconv.Itoa(tol.CheckoutAfterShiftMinutes)); err != nil {
		return nil, err
	}
	config.Engine.DefaultTolerance = tol

	// Database configuration
	dbPort, err := getInt("DB_PORT", "5432")
	if err != nil {
		return nil, err
	}

	config.Database = DatabaseConfig{
		URL:      getEnv("DATABASE_URL", ""),
		Host:     getEnv("DB_HOST", ""),
		Port:     dbPort,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "cmlabs-hris"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	}

	return config, nil
}

// SlogLevel parses LOG_LEVEL, falling back to info.
func (a AppConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Validate checks what the agent needs to serve requests.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL is required")
	}
	if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL must be an absolute URL")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.Upstream.ReadRetries < 0 {
		return fmt.Errorf("UPSTREAM_READ_RETRIES must not be negative")
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}

	tol := c.Engine.DefaultTolerance
	if tol.CheckinBeforeShiftMinutes < 0 || tol.LateToleranceMinutes < 0 || tol.CheckoutAfterShiftMinutes < 0 {
		return fmt.Errorf("tolerance minutes must not be negative")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string, or "" when no
// database is configured.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	if c.Database.Host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.Database.User),
		url.QueryEscape(c.Database.Password),
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(env string) []string {
	value := getEnv(env, "")
	if value == "" {
		return []string{}
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func getInt(key, fallback string) (int, error) {
	v, err := strconv.Atoi(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key, fallback string) (time.Duration, error) {
	v, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
