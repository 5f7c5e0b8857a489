package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Clients  ClientsConfig  `yaml:"clients"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Mode         string        `yaml:"mode"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type ClientsConfig struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

type TasksConfig struct {
	StuckThreshold   time.Duration `yaml:"stuck_threshold"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
	RetentionDays    int           `yaml:"retention_days"`
	CleanupSchedule  string        `yaml:"cleanup_schedule"`
}

type IngestConfig struct {
	Enabled           bool          `yaml:"enabled"`
	SourceDSN         string        `yaml:"source_dsn"`
	BatchSize         int           `yaml:"batch_size"`
	TimeLimitHours    int           `yaml:"time_limit_hours"`
	Interval          time.Duration `yaml:"interval"`
	RefundInterval    time.Duration `yaml:"refund_interval"`
	InitialLastSyncID int64         `yaml:"initial_last_sync_id"`
}

type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AuthConfig guards the admin API. An empty JWTSecret is replaced by a
// generated one persisted in the database; only Disabled turns auth off.
type AuthConfig struct {
	Disabled          bool          `yaml:"disabled"`
	JWTSecret         string        `yaml:"jwt_secret"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Mode:         "release",
		},
		Database: DatabaseConfig{
			Path: "./data/printhub.db",
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			ChannelPrefix: "printhub:",
		},
		Clients: ClientsConfig{
			HeartbeatTimeout: 2 * time.Minute,
			SweepInterval:    60 * time.Second,
		},
		Tasks: TasksConfig{
			StuckThreshold:   30 * time.Minute,
			RecoveryInterval: 10 * time.Minute,
			RetentionDays:    30,
			CleanupSchedule:  "0 0 1 * * *",
		},
		Ingest: IngestConfig{
			BatchSize:      50,
			TimeLimitHours: 24,
			Interval:       10 * time.Second,
			RefundInterval: 30 * time.Second,
		},
		Archive: ArchiveConfig{
			Path: "./data/archives",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides file values with PRINTHUB_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PRINTHUB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("PRINTHUB_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("PRINTHUB_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}

	if v := os.Getenv("PRINTHUB_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	if v := os.Getenv("PRINTHUB_SOURCE_DSN"); v != "" {
		c.Ingest.SourceDSN = v
		c.Ingest.Enabled = true
	}

	if v := os.Getenv("PRINTHUB_ARCHIVE_PATH"); v != "" {
		c.Archive.Path = v
	}

	if v := os.Getenv("PRINTHUB_S3_BUCKET"); v != "" {
		c.Archive.S3Bucket = v
	}

	if v := os.Getenv("PRINTHUB_AUTH_DISABLED"); v != "" {
		if disabled, err := strconv.ParseBool(v); err == nil {
			c.Auth.Disabled = disabled
		}
	}

	if v := os.Getenv("PRINTHUB_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}

	if v := os.Getenv("PRINTHUB_ADMIN_PASSWORD_HASH"); v != "" {
		c.Auth.AdminPasswordHash = v
	}

	if v := os.Getenv("PRINTHUB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("PRINTHUB_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	validModes := map[string]bool{
		"debug":   true,
		"release": true,
		"test":    true,
	}

	if !validModes[c.Server.Mode] {
		return fmt.Errorf("invalid server mode: %s (valid: debug, release, test)", c.Server.Mode)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.Clients.HeartbeatTimeout <= 0 {
		return fmt.Errorf("client heartbeat timeout must be positive")
	}

	if c.Clients.SweepInterval <= 0 {
		return fmt.Errorf("client sweep interval must be positive")
	}

	if c.Tasks.StuckThreshold <= 0 {
		return fmt.Errorf("task stuck threshold must be positive")
	}

	if c.Tasks.RecoveryInterval <= 0 {
		return fmt.Errorf("task recovery interval must be positive")
	}

	if c.Tasks.RetentionDays < 1 {
		return fmt.Errorf("task retention days must be at least 1")
	}

	if c.Tasks.CleanupSchedule == "" {
		return fmt.Errorf("task cleanup schedule is required")
	}

	if c.Ingest.Enabled {
		if c.Ingest.SourceDSN == "" {
			return fmt.Errorf("ingest source dsn is required when ingest is enabled")
		}
		if c.Ingest.BatchSize < 1 {
			return fmt.Errorf("ingest batch size must be at least 1")
		}
		if c.Ingest.TimeLimitHours < 1 {
			return fmt.Errorf("ingest time limit hours must be at least 1")
		}
		if c.Ingest.Interval <= 0 || c.Ingest.RefundInterval <= 0 {
			return fmt.Errorf("ingest intervals must be positive")
		}
		if c.Ingest.InitialLastSyncID < 0 {
			return fmt.Errorf("ingest initial last sync id must be non-negative")
		}
	}

	if c.Archive.Enabled && c.Archive.Path == "" {
		return fmt.Errorf("archive path is required when archive is enabled")
	}

	if c.Archive.S3Bucket != "" && c.Archive.S3Region == "" {
		return fmt.Errorf("archive s3 region is required when s3 bucket is set")
	}

	if !c.Auth.Disabled && c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token ttl must be positive")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}
