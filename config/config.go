// Package config loads server configuration from defaults, an optional
// config file, a .env file and PP_* environment variables, in increasing
// order of precedence. Command-line flags bound by cmd/server win over all
// of them.
//
// auth.dev_header and admin.enabled have no fixed default: unless set
// explicitly they are on for the memory driver and off for the persistent
// ones.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. PP_HTTP_PORT.
const EnvPrefix = "PP"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	Policies  PoliciesConfig  `mapstructure:"policies"`
	Lock      LockConfig      `mapstructure:"lock"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type PlatformConfig struct {
	AccountID string `mapstructure:"account_id"`
}

type PoliciesConfig struct {
	File string `mapstructure:"file"`
}

// LockConfig selects the pair locker. An empty RedisAddr means in-process.
type LockConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	DevHeader bool   `mapstructure:"dev_header"`
}

// AdminConfig gates the routes that create points or reset data: account
// creation, policy updates, scenario loading and manual audit runs.
// Accounts defaults to the platform account.
type AdminConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Accounts []string `mapstructure:"accounts"`
}

type AuditConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Endpoint     string  `mapstructure:"endpoint"`
	Environment  string  `mapstructure:"environment"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// No defaults for these, so bind them for Unmarshal to see PP_* values.
	_ = v.BindEnv("auth.dev_header")
	_ = v.BindEnv("admin.enabled")
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "./data/points.db")
	v.SetDefault("platform.account_id", "1")
	v.SetDefault("policies.file", "")
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.ttl", 5*time.Second)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("admin.accounts", []string{})
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.interval", 10*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

// Load reads .env (if present) and configFile (if set) into v and decodes
// the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	// .env is optional; real environment variables take precedence over it.
	_ = godotenv.Load()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	devMode := cfg.Store.Driver == DriverMemory
	if !v.IsSet("auth.dev_header") {
		cfg.Auth.DevHeader = devMode
	}
	if !v.IsSet("admin.enabled") {
		cfg.Admin.Enabled = devMode
	}
	if len(cfg.Admin.Accounts) == 0 && cfg.Platform.AccountID != "" {
		cfg.Admin.Accounts = []string{cfg.Platform.AccountID}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be sqlite, postgres or memory, got %q", c.Store.Driver))
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.HTTP.Port))
	}
	if c.Platform.AccountID == "" {
		errs = append(errs, errors.New("platform.account_id is required"))
	}
	if c.Admin.Enabled && c.Auth.DevHeader && c.Store.Driver != DriverMemory {
		errs = append(errs, errors.New("admin.enabled requires auth.dev_header off outside the memory driver"))
	}
	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		errs = append(errs, errors.New("audit.interval must be positive"))
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sampling_rate must be within [0,1], got %v", c.Telemetry.SamplingRate))
	}

	return errors.Join(errs...)
}

// ValidateServe checks what the HTTP server needs on top of Validate:
// some way to authenticate callers.
func (c *Config) ValidateServe() error {
	if !c.Auth.DevHeader && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth.dev_header is off")
	}
	return nil
}
