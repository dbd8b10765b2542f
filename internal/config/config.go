// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Stop point requirement modes.
const (
	// RequirementAdditional asks for the full required balance on top of the wallet.
	RequirementAdditional = "additional"
	// RequirementShortfall asks only for what the wallet is missing.
	RequirementShortfall = "shortfall"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Bot        BotConfig        `mapstructure:"bot"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	StopPoints StopPointsConfig `mapstructure:"stop_points"`
	Commission CommissionConfig `mapstructure:"commission"`
	Lock       LockConfig       `mapstructure:"lock"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	AdminToken   string        `mapstructure:"admin_token"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// BotConfig holds Telegram bot configuration.
// An empty token disables the bot.
type BotConfig struct {
	Token string `mapstructure:"token"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// PricingConfig holds the leftover buffers used when dividing a balance into task prices.
type PricingConfig struct {
	StopPointBufferMin    float64 `mapstructure:"stop_point_buffer_min"`
	StopPointBufferMax    float64 `mapstructure:"stop_point_buffer_max"`
	ReferralLeftoverMin   float64 `mapstructure:"referral_leftover_min"`
	ReferralLeftoverMax   float64 `mapstructure:"referral_leftover_max"`
	FakeDisplayPriceMin   float64 `mapstructure:"fake_display_price_min"`
	FakeDisplayPriceMax   float64 `mapstructure:"fake_display_price_max"`
	SliceVariationPercent float64 `mapstructure:"slice_variation_percent"`
}

// StopPointsConfig holds stop point gate configuration.
type StopPointsConfig struct {
	DefaultRequired float64 `mapstructure:"default_required"`
	RequirementMode string  `mapstructure:"requirement_mode"`
}

// CommissionConfig holds commission policy toggles.
type CommissionConfig struct {
	ZeroReferrerRateOnDailyLimit bool `mapstructure:"zero_referrer_rate_on_daily_limit"`
}

// LockConfig holds per-user lock configuration.
type LockConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, STOP_POINTS_REQUIREMENT_MODE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static, so decoding cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")

	v.SetDefault("storage.driver", StoragePostgres)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "taskreward")
	v.SetDefault("database.name", "taskreward")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("pricing.stop_point_buffer_min", 0)
	v.SetDefault("pricing.stop_point_buffer_max", 0)
	v.SetDefault("pricing.referral_leftover_min", 0)
	v.SetDefault("pricing.referral_leftover_max", 0)
	v.SetDefault("pricing.fake_display_price_min", 30)
	v.SetDefault("pricing.fake_display_price_max", 120)
	v.SetDefault("pricing.slice_variation_percent", 20)

	v.SetDefault("stop_points.default_required", 200)
	v.SetDefault("stop_points.requirement_mode", RequirementAdditional)

	v.SetDefault("commission.zero_referrer_rate_on_daily_limit", false)

	v.SetDefault("lock.timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// Validate checks values that viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.StopPoints.RequirementMode {
	case RequirementAdditional, RequirementShortfall:
	default:
		return fmt.Errorf("unknown stop point requirement mode %q", c.StopPoints.RequirementMode)
	}
	if c.Pricing.StopPointBufferMax < c.Pricing.StopPointBufferMin {
		return fmt.Errorf("pricing.stop_point_buffer_max must not be below the minimum")
	}
	if c.Pricing.ReferralLeftoverMax < c.Pricing.ReferralLeftoverMin {
		return fmt.Errorf("pricing.referral_leftover_max must not be below the minimum")
	}
	if c.Pricing.FakeDisplayPriceMax < c.Pricing.FakeDisplayPriceMin {
		return fmt.Errorf("pricing.fake_display_price_max must not be below the minimum")
	}
	return nil
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// DefaultRequiredBalance returns the stop point requirement used when none is given.
func (c *StopPointsConfig) DefaultRequiredBalance() decimal.Decimal {
	return decimal.NewFromFloat(c.DefaultRequired).Round(2)
}
