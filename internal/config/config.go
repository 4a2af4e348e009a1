// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8080"
	DefaultJWTExpiresIn  = "24h"
	DefaultOperatorUser  = "admin"
	DefaultPGHost        = "127.0.0.1"
	DefaultPGPort        = 5432
	DefaultPGUser        = "postgres"
	DefaultPGDatabase    = "rolodex"
	DefaultPGSSLMode     = "disable"
	DefaultRedisAddr     = "127.0.0.1:6379"
	DefaultLockBackend   = "postgres"
	DefaultDirectoryURL  = "https://people.example.com"
	DefaultNameThreshold = 0.6
	DefaultDispatchSpec  = "@every 1m"
	DefaultPurgeSpec     = "0 30 3 * * *"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Lock      LockConfig      `toml:"lock"`
	Directory DirectoryConfig `toml:"directory"`
	OAuth     OAuthConfig     `toml:"oauth"`
	Sync      SyncConfig      `toml:"sync"`
	Dedup     DedupConfig     `toml:"dedup"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text) and an optional rotated file.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h) and the operator login. The password is
// stored as a bcrypt hash (see `rolodexctl hash-password`).
type AuthConfig struct {
	JWTSecret            string `toml:"jwt_secret"`
	JWTExpiresIn         string `toml:"jwt_expires_in"`
	OperatorUser         string `toml:"operator_user"`
	OperatorPasswordHash string `toml:"operator_password_hash"`
}

// ExpiresIn parses JWTExpiresIn, falling back to the default on an empty or invalid value.
func (c AuthConfig) ExpiresIn() time.Duration {
	if d, err := time.ParseDuration(c.JWTExpiresIn); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultJWTExpiresIn)
	return d
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// RedisConfig is only used when lock.backend = "redis".
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// LockConfig selects the run-lock backend: "postgres" (advisory locks), "redis" or "memory".
type LockConfig struct {
	Backend    string `toml:"backend"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

// DirectoryConfig holds the remote contacts API endpoint and client limits.
type DirectoryConfig struct {
	BaseURL        string  `toml:"base_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RetryCount     int     `toml:"retry_count"`
	PageSize       int     `toml:"page_size"`
	RatePerSecond  float64 `toml:"rate_per_second"`
	Burst          int     `toml:"burst"`
}

// OAuthConfig holds the OAuth2 client used to refresh linked account credentials.
type OAuthConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	Scopes       []string `toml:"scopes"`
}

// SyncConfig tunes the orchestrator and change detector.
type SyncConfig struct {
	EntityTimeoutSeconds int     `toml:"entity_timeout_seconds"`
	BackoffBaseSeconds   int     `toml:"backoff_base_seconds"`
	BackoffMaxSeconds    int     `toml:"backoff_max_seconds"`
	NameThreshold        float64 `toml:"name_threshold"`
	AuditNoop            bool    `toml:"audit_noop"`
	MaxConcurrentRuns    int     `toml:"max_concurrent_runs"`
}

// DedupConfig holds the completeness score weights and merge mode.
type DedupConfig struct {
	FieldWeight      int  `toml:"field_weight"`
	RemoteLinkWeight int  `toml:"remote_link_weight"`
	ImageWeight      int  `toml:"image_weight"`
	AutoMerge        bool `toml:"auto_merge"`
}

// SchedulerConfig holds cron specs (seconds field optional) for background jobs. Empty DedupSpec disables scheduled dedup.
type SchedulerConfig struct {
	DispatchSpec string `toml:"dispatch_spec"`
	PurgeSpec    string `toml:"purge_spec"`
	DedupSpec    string `toml:"dedup_spec"`
}

// EntityTimeout returns the per-entity deadline for remote calls.
func (c SyncConfig) EntityTimeout() time.Duration {
	return seconds(c.EntityTimeoutSeconds, 30)
}

// BackoffBase returns the first backoff step after an account-level failure.
func (c SyncConfig) BackoffBase() time.Duration {
	return seconds(c.BackoffBaseSeconds, 300)
}

// BackoffMax caps the exponential account backoff.
func (c SyncConfig) BackoffMax() time.Duration {
	return seconds(c.BackoffMaxSeconds, 24*3600)
}

// Timeout returns the HTTP timeout of the directory client.
func (c DirectoryConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds, 20)
}

// TTL returns how long a run-lock may be held before it expires (redis backend only).
func (c LockConfig) TTL() time.Duration {
	return seconds(c.TTLSeconds, 1800)
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
			OperatorUser: DefaultOperatorUser,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		Lock: LockConfig{
			Backend:    DefaultLockBackend,
			TTLSeconds: 1800,
		},
		Directory: DirectoryConfig{
			BaseURL:        DefaultDirectoryURL,
			TimeoutSeconds: 20,
			RetryCount:     2,
			PageSize:       200,
			RatePerSecond:  5,
			Burst:          5,
		},
		Sync: SyncConfig{
			EntityTimeoutSeconds: 30,
			BackoffBaseSeconds:   300,
			BackoffMaxSeconds:    24 * 3600,
			NameThreshold:        DefaultNameThreshold,
			MaxConcurrentRuns:    4,
		},
		Dedup: DedupConfig{
			FieldWeight:      1,
			RemoteLinkWeight: 2,
			ImageWeight:      1,
		},
		Scheduler: SchedulerConfig{
			DispatchSpec: DefaultDispatchSpec,
			PurgeSpec:    DefaultPurgeSpec,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
