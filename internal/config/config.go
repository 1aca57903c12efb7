package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	DBAcquireTimeout   time.Duration `mapstructure:"DB_ACQUIRE_TIMEOUT"`
	DBIdleTimeout      time.Duration `mapstructure:"DB_IDLE_TIMEOUT"`
	BaseURL            string        `mapstructure:"BASE_URL"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	SearchDefaultCount int           `mapstructure:"SEARCH_DEFAULT_COUNT"`
	SearchMaxCount     int           `mapstructure:"SEARCH_MAX_COUNT"`
	FHIRPathCacheSize  int           `mapstructure:"FHIRPATH_CACHE_SIZE"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_ACQUIRE_TIMEOUT", "5s")
	v.SetDefault("DB_IDLE_TIMEOUT", "30s")
	v.SetDefault("BASE_URL", "http://localhost:8000")
	v.SetDefault("SEARCH_DEFAULT_COUNT", 20)
	v.SetDefault("SEARCH_MAX_COUNT", 1000)
	v.SetDefault("FHIRPATH_CACHE_SIZE", 1000)
	v.SetDefault("LOG_LEVEL", "info")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DB_ACQUIRE_TIMEOUT")
	v.BindEnv("DB_IDLE_TIMEOUT")
	v.BindEnv("BASE_URL")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("SEARCH_DEFAULT_COUNT")
	v.BindEnv("SEARCH_MAX_COUNT")
	v.BindEnv("FHIRPATH_CACHE_SIZE")
	v.BindEnv("LOG_LEVEL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Request
// authentication is optional in development only.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SearchDefaultCount < 1 {
		return fmt.Errorf("SEARCH_DEFAULT_COUNT must be positive, got %d", c.SearchDefaultCount)
	}
	if c.SearchMaxCount < c.SearchDefaultCount {
		return fmt.Errorf("SEARCH_MAX_COUNT (%d) must be at least SEARCH_DEFAULT_COUNT (%d)",
			c.SearchMaxCount, c.SearchDefaultCount)
	}
	if c.FHIRPathCacheSize < 1 {
		return fmt.Errorf("FHIRPATH_CACHE_SIZE must be positive, got %d", c.FHIRPathCacheSize)
	}
	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	return nil
}
