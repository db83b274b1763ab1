// Package config provides configuration management for the migration service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/zeebo/errs"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

// Config holds all configuration for the migration service.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Campaign     CampaignConfig     `mapstructure:"campaign"`
	Pools        PoolsConfig        `mapstructure:"pools"`
	Directory    DirectoryConfig    `mapstructure:"directory"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Notification NotificationConfig `mapstructure:"notification"`
	Admission    AdmissionConfig    `mapstructure:"admission"`
	Migration    MigrationConfig    `mapstructure:"migration"`
	RateLimiter  RateLimiterConfig  `mapstructure:"rate_limiter"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// AllowedOrigins lists dashboard origins allowed to call the operator
	// endpoints from a browser. Empty disables CORS headers.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// CampaignConfig holds the campaign parameters.
// Deadline accepts an ISO date (2025-09-01) or an RFC 3339 timestamp.
type CampaignConfig struct {
	Deadline        string   `mapstructure:"deadline"`
	GracePeriodDays int      `mapstructure:"grace_period_days"`
	WarningDays     []int    `mapstructure:"warning_days"`
	EnabledMethods  []string `mapstructure:"enabled_methods"`
}

// PoolConfig identifies one identity store and the MFA mode it is expected to have.
type PoolConfig struct {
	StoreID          string `mapstructure:"store_id"`
	ClientID         string `mapstructure:"client_id"`
	Region           string `mapstructure:"region"`
	MFAConfiguration string `mapstructure:"mfa_configuration"`
}

// PoolsConfig holds the source and target stores.
type PoolsConfig struct {
	Legacy PoolConfig `mapstructure:"legacy"`
	New    PoolConfig `mapstructure:"new"`
}

// DirectoryConfig selects the identity directory backend.
type DirectoryConfig struct {
	Backend    string `mapstructure:"backend"` // memory, sqlite, cognito
	SQLitePath string `mapstructure:"sqlite_path"`
	Region     string `mapstructure:"region"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig holds record cache settings.
type CacheConfig struct {
	Backend string        `mapstructure:"backend"` // memory, redis
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// LedgerConfig selects where migration attempts are recorded.
type LedgerConfig struct {
	Backend  string         `mapstructure:"backend"` // memory, postgres
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// NotificationConfig selects the delivery channel.
type NotificationConfig struct {
	Backend     string `mapstructure:"backend"` // log, aws
	FromAddress string `mapstructure:"from_address"`
	Region      string `mapstructure:"region"`
}

// AdmissionConfig holds hot-path settings.
type AdmissionConfig struct {
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
}

// MigrationConfig holds batch migration settings.
type MigrationConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	InterChunkDelay  time.Duration `mapstructure:"inter_chunk_delay"`
	CredentialLength int           `mapstructure:"credential_length"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mfa-migration/")
	}

	// Read environment variables
	v.SetEnvPrefix("MFA_MIGRATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	// Read config file (ignore if not found, use defaults/env)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindLegacyEnv accepts the unprefixed variable names used by existing deployments.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("campaign.deadline", "MFA_MIGRATION_CAMPAIGN_DEADLINE", "MIGRATION_DEADLINE")
	_ = v.BindEnv("campaign.grace_period_days", "MFA_MIGRATION_CAMPAIGN_GRACE_PERIOD_DAYS", "GRACE_PERIOD_DAYS")
	_ = v.BindEnv("pools.legacy.store_id", "MFA_MIGRATION_POOLS_LEGACY_STORE_ID", "LEGACY_USER_POOL_ID")
	_ = v.BindEnv("pools.new.store_id", "MFA_MIGRATION_POOLS_NEW_STORE_ID", "NEW_USER_POOL_ID")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})

	// Campaign defaults
	v.SetDefault("campaign.deadline", "2025-09-01")
	v.SetDefault("campaign.grace_period_days", 7)
	v.SetDefault("campaign.warning_days", []int{30, 14, 7, 3, 1})
	v.SetDefault("campaign.enabled_methods", []string{"SMS", "TOTP", "EMAIL"})

	// Pool defaults
	v.SetDefault("pools.legacy.store_id", "legacy-pool")
	v.SetDefault("pools.legacy.mfa_configuration", "OPTIONAL")
	v.SetDefault("pools.new.store_id", "mfa-required-pool")
	v.SetDefault("pools.new.mfa_configuration", "ON")

	// Directory defaults
	v.SetDefault("directory.backend", "sqlite")
	v.SetDefault("directory.sqlite_path", "mfa-directory.db")
	v.SetDefault("directory.region", "ap-northeast-1")

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_size", 100000)
	v.SetDefault("cache.ttl", "0s")
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)

	// Ledger defaults
	v.SetDefault("ledger.backend", "memory")
	v.SetDefault("ledger.postgres.host", "localhost")
	v.SetDefault("ledger.postgres.port", 5432)
	v.SetDefault("ledger.postgres.database", "mfa_migration")
	v.SetDefault("ledger.postgres.user", "mfa_migration")
	v.SetDefault("ledger.postgres.max_conns", 10)
	v.SetDefault("ledger.postgres.min_conns", 1)

	// Notification defaults
	v.SetDefault("notification.backend", "log")
	v.SetDefault("notification.from_address", "noreply@example.com")
	v.SetDefault("notification.region", "ap-northeast-1")

	// Admission defaults
	v.SetDefault("admission.lookup_timeout", "2s")

	// Migration defaults
	v.SetDefault("migration.batch_size", 10)
	v.SetDefault("migration.inter_chunk_delay", "1s")
	v.SetDefault("migration.credential_length", 16)

	// Rate limiter defaults
	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 200.0)
	v.SetDefault("rate_limiter.burst_size", 50)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var group errs.Group

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		group.Add(errs.New("invalid server port: %d", c.Server.Port))
	}

	if _, err := c.Settings(); err != nil {
		group.Add(err)
	}

	if c.Pools.Legacy.StoreID == "" {
		group.Add(errs.New("pools.legacy.store_id is required"))
	}
	if c.Pools.New.StoreID == "" {
		group.Add(errs.New("pools.new.store_id is required"))
	}
	if c.Pools.Legacy.StoreID != "" && c.Pools.Legacy.StoreID == c.Pools.New.StoreID {
		group.Add(errs.New("legacy and new pools must differ"))
	}
	for name, p := range map[string]PoolConfig{"legacy": c.Pools.Legacy, "new": c.Pools.New} {
		if !validMFAConfiguration(p.MFAConfiguration) {
			group.Add(errs.New("pools.%s.mfa_configuration must be OFF, ON or OPTIONAL, got %q", name, p.MFAConfiguration))
		}
	}

	switch c.Directory.Backend {
	case "memory", "cognito":
	case "sqlite":
		if c.Directory.SQLitePath == "" {
			group.Add(errs.New("directory.sqlite_path is required for the sqlite backend"))
		}
	default:
		group.Add(errs.New("unknown directory backend %q", c.Directory.Backend))
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		group.Add(errs.New("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Cache.TTL < 0 {
		group.Add(errs.New("cache.ttl must be >= 0"))
	}

	switch c.Ledger.Backend {
	case "memory", "postgres":
	default:
		group.Add(errs.New("unknown ledger backend %q", c.Ledger.Backend))
	}

	switch c.Notification.Backend {
	case "log":
	case "aws":
		if c.Notification.FromAddress == "" {
			group.Add(errs.New("notification.from_address is required for the aws backend"))
		}
	default:
		group.Add(errs.New("unknown notification backend %q", c.Notification.Backend))
	}

	if c.Admission.LookupTimeout <= 0 {
		group.Add(errs.New("admission.lookup_timeout must be positive"))
	}
	if c.Migration.InterChunkDelay < 0 {
		group.Add(errs.New("migration.inter_chunk_delay must be >= 0"))
	}
	if c.Migration.CredentialLength < 8 {
		group.Add(errs.New("migration.credential_length must be at least 8"))
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			group.Add(errs.New("rate limiter requests per second must be positive"))
		}
		if c.RateLimiter.BurstSize <= 0 {
			group.Add(errs.New("rate limiter burst size must be positive"))
		}
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		group.Add(errs.New("invalid metrics port: %d", c.Metrics.Port))
	}

	return group.Err()
}

// Settings converts the campaign section into validated MigrationSettings.
func (c *Config) Settings() (model.MigrationSettings, error) {
	deadline, err := ParseDeadline(c.Campaign.Deadline)
	if err != nil {
		return model.MigrationSettings{}, err
	}
	settings := model.MigrationSettings{
		Deadline:        deadline,
		WarningDays:     append([]int(nil), c.Campaign.WarningDays...),
		GracePeriodDays: c.Campaign.GracePeriodDays,
	}
	for _, m := range c.Campaign.EnabledMethods {
		settings.EnabledMethods = append(settings.EnabledMethods, model.MFAMethod(strings.ToUpper(m)))
	}
	if err := settings.Validate(); err != nil {
		return model.MigrationSettings{}, errs.New("campaign: %w", err)
	}
	return settings, nil
}

// LegacyPool returns the source store description.
func (c *Config) LegacyPool() model.PoolConfig {
	return toPool(c.Pools.Legacy)
}

// NewPool returns the target store description.
func (c *Config) NewPool() model.PoolConfig {
	return toPool(c.Pools.New)
}

func toPool(p PoolConfig) model.PoolConfig {
	return model.PoolConfig{
		StoreID:          p.StoreID,
		ClientID:         p.ClientID,
		Region:           p.Region,
		MFAConfiguration: model.MFAConfiguration(p.MFAConfiguration),
	}
}

// ParseDeadline accepts an ISO date, interpreted as midnight UTC, or an RFC 3339 timestamp.
func ParseDeadline(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errs.New("campaign.deadline is required")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errs.New("invalid campaign.deadline %q: expected YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func validMFAConfiguration(s string) bool {
	switch model.MFAConfiguration(s) {
	case model.MFAConfigurationOff, model.MFAConfigurationOn, model.MFAConfigurationOptional:
		return true
	}
	return false
}

// DefaultConfig returns the configuration built from defaults only.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config does not decode: %v", err))
	}
	return &cfg
}
