package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	Store                string        `mapstructure:"STORE"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	AvailabilityCacheTTL time.Duration `mapstructure:"AVAILABILITY_CACHE_TTL"`
	AMQPURL              string        `mapstructure:"AMQP_URL"`
	EventsQueue          string        `mapstructure:"EVENTS_QUEUE"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	ScheduleTimezone     string        `mapstructure:"SCHEDULE_TIMEZONE"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit            string        `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "AVAILABILITY_CACHE_TTL", "AMQP_URL", "EVENTS_QUEUE",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"SCHEDULE_TIMEZONE", "REQUEST_TIMEOUT", "BODY_LIMIT",
}

// Load reads configuration from the environment, falling back to a .env file
// in the working directory when one exists.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "60s")
	v.SetDefault("EVENTS_QUEUE", "scheduling.events")
	v.SetDefault("AUTH_ISSUER", "hms")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SCHEDULE_TIMEZONE", "UTC")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Missing .env is fine
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
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

// Location resolves SCHEDULE_TIMEZONE, the zone in which "today" and every
// slot date are computed.
func (c *Config) Location() (*time.Location, error) {
	if c.ScheduleTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULE_TIMEZONE %q: %w", c.ScheduleTimezone, err)
	}
	return loc, nil
}

// SigningKey decodes AUTH_SIGNING_KEY. It is nil when the key is unset.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	return key, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key of at least 32 bytes is required so that JWT authentication
// is enforced.
func (c *Config) Validate() error {
	if c.Store != StorePostgres && c.Store != StoreMemory {
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.IsProduction() && c.Store == StoreMemory {
		return fmt.Errorf("STORE=%s is not allowed in production", StoreMemory)
	}

	key, err := c.SigningKey()
	if err != nil {
		return err
	}
	if !c.IsDev() && key == nil {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q; refusing to start without authentication", c.Env)
	}
	if key != nil && len(key) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if c.AvailabilityCacheTTL < 0 {
		return fmt.Errorf("AVAILABILITY_CACHE_TTL must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
