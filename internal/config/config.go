package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. SMARTNOTES_PORT.
const Prefix = "smartnotes"

const minSecretLen = 32

// Config holds runtime configuration read from the environment.
type Config struct {
	AppEnv string `envconfig:"APP_ENV" default:"development"`
	Port   string `envconfig:"PORT" default:"8080"`

	DBPath         string `envconfig:"DB_PATH" default:"smartnotes.db"`
	DBMaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"4"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	GeminiAPIKey  string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel   string        `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiBaseURL string        `envconfig:"GEMINI_BASE_URL"`
	AITimeout     time.Duration `envconfig:"AI_TIMEOUT" default:"20s"`

	RedisAddr  string        `envconfig:"REDIS_ADDR"`
	AICacheTTL time.Duration `envconfig:"AI_CACHE_TTL" default:"24h"`

	AuthRateLimit int `envconfig:"AUTH_RATE_LIMIT" default:"10"`
	// TrustProxy honors CF-Connecting-IP and X-Forwarded-For. Enable it only
	// behind a proxy that overwrites those headers.
	TrustProxy bool `envconfig:"TRUST_PROXY" default:"false"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env file not found, using environment variables")
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.JWTSecret) < minSecretLen {
		return fmt.Errorf("jwt secret must be at least %d bytes", minSecretLen)
	}
	if c.Port == "" {
		return errors.New("port must be set")
	}
	if c.AuthRateLimit <= 0 {
		return errors.New("auth rate limit must be positive")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}
