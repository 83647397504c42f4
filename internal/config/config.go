package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/careplan/careplan/internal/platform/generator"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseDriver    string        `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema          string        `mapstructure:"DB_SCHEMA"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`
	TrustProxyHeaders bool          `mapstructure:"TRUST_PROXY_HEADERS"`
	AnthropicAPIKey   string        `mapstructure:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL  string        `mapstructure:"ANTHROPIC_BASE_URL"`
	AnthropicModel    string        `mapstructure:"ANTHROPIC_MODEL"`
	AnthropicMaxTok   int64         `mapstructure:"ANTHROPIC_MAX_TOKENS"`
	AnthropicTimeout  time.Duration `mapstructure:"ANTHROPIC_TIMEOUT"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	OrderEventsStream string        `mapstructure:"ORDER_EVENTS_STREAM"`
	MetricsEnabled    bool          `mapstructure:"METRICS_ENABLED"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DB_SCHEMA", "MIGRATIONS_DIR", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"BODY_LIMIT", "TRUST_PROXY_HEADERS", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "ANTHROPIC_MODEL",
	"ANTHROPIC_MAX_TOKENS", "ANTHROPIC_TIMEOUT", "REDIS_URL", "ORDER_EVENTS_STREAM",
	"METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DATABASE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("MIGRATIONS_DIR", "")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("TRUST_PROXY_HEADERS", false)
	v.SetDefault("ANTHROPIC_MODEL", generator.DefaultModel)
	v.SetDefault("ANTHROPIC_MAX_TOKENS", generator.DefaultMaxTokens)
	v.SetDefault("ANTHROPIC_TIMEOUT", "0s")
	v.SetDefault("ORDER_EVENTS_STREAM", "careplan:order-events")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind explicitly so Unmarshal sees env-only keys.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// viper hands a comma separated env value back as a single element
	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = splitList(origins)
		}
	}

	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is usable. An API key is only
// mandatory in production; elsewhere a missing key makes every order fail
// with the provider's authentication error.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DatabaseDriver)
	}
	if c.AnthropicMaxTok <= 0 {
		return fmt.Errorf("ANTHROPIC_MAX_TOKENS must be positive, got %d", c.AnthropicMaxTok)
	}
	if c.AnthropicModel == "" {
		return fmt.Errorf("ANTHROPIC_MODEL must not be empty")
	}
	if c.AnthropicTimeout < 0 {
		return fmt.Errorf("ANTHROPIC_TIMEOUT must not be negative")
	}
	if c.IsProduction() && c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required in production")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	return nil
}

// GeneratorConfig projects the care-plan generator settings.
func (c *Config) GeneratorConfig() generator.Config {
	return generator.Config{
		APIKey:    c.AnthropicAPIKey,
		BaseURL:   c.AnthropicBaseURL,
		Model:     c.AnthropicModel,
		MaxTokens: c.AnthropicMaxTok,
		Timeout:   c.AnthropicTimeout,
	}
}
