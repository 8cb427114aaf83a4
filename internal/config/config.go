package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Printers PrintersConfig  `yaml:"printers"`
	Queue    QueueConfig     `yaml:"queue"`
	Agents   AgentsConfig    `yaml:"agents"`
	Auth     AuthConfig      `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Logging  LoggingConfig   `yaml:"logging"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Archive  ArchiveConfig   `yaml:"archive"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PrintersConfig struct {
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// QueueConfig drives the print job processor. Values are read once at startup.
type QueueConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryCooldown     time.Duration `yaml:"retry_cooldown"`
	PollFallback      time.Duration `yaml:"poll_fallback"`
	ErrorBackoff      time.Duration `yaml:"error_backoff"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	MaxSendsPerSecond float64       `yaml:"max_sends_per_second"`
}

type AgentsConfig struct {
	AckTimeout      time.Duration `yaml:"ack_timeout"`
	RegisterTimeout time.Duration `yaml:"register_timeout"`
	RequireToken    bool          `yaml:"require_token"`
}

type AuthConfig struct {
	AgentTokenSecret string        `yaml:"agent_token_secret"`
	AgentTokenTTL    time.Duration `yaml:"agent_token_ttl"`
	AdminKeyHash     string        `yaml:"admin_key_hash"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ArchiveConfig moves old succeeded jobs out of the live database into monthly files.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	RetentionDays int           `yaml:"retention_days"`
	Interval      time.Duration `yaml:"interval"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/printd.db",
		},
		Printers: PrintersConfig{
			ConnectionTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		Queue: QueueConfig{
			BatchSize:     10,
			MaxRetries:    5,
			RetryCooldown: 30 * time.Second,
			PollFallback:  3 * time.Second,
			ErrorBackoff:  10 * time.Second,
			StaleAfter:    2 * time.Minute,
		},
		Agents: AgentsConfig{
			AckTimeout:      15 * time.Second,
			RegisterTimeout: 10 * time.Second,
			RequireToken:    true,
		},
		Auth: AuthConfig{
			AgentTokenTTL: 365 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Archive: ArchiveConfig{
			Path:          "./data/archives",
			RetentionDays: 30,
			Interval:      24 * time.Hour,
		},
	}
}

// Default returns the built-in configuration without reading any file.
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

// LoadFromEnv applies PRINTD_* overrides on top of cfg. A nil cfg starts from defaults.
func LoadFromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = defaults()
	}

	if v := os.Getenv("PRINTD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("PRINTD_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PRINTD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("PRINTD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("PRINTD_AGENT_TOKEN_SECRET"); v != "" {
		cfg.Auth.AgentTokenSecret = v
	}

	if v := os.Getenv("PRINTD_ADMIN_KEY_HASH"); v != "" {
		cfg.Auth.AdminKeyHash = v
	}

	if v := os.Getenv("PRINTD_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.BatchSize = n
		}
	}

	if v := os.Getenv("PRINTD_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxRetries = n
		}
	}

	return cfg
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

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Printers.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout must be non-negative")
	}

	if c.Queue.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}

	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative")
	}

	if c.Queue.RetryCooldown < 0 {
		return fmt.Errorf("retry cooldown must be non-negative")
	}

	if c.Queue.PollFallback <= 0 {
		return fmt.Errorf("poll fallback must be positive")
	}

	if c.Queue.ErrorBackoff <= 0 {
		return fmt.Errorf("error backoff must be positive")
	}

	if c.Queue.MaxSendsPerSecond < 0 {
		return fmt.Errorf("max sends per second must be non-negative")
	}

	if c.Agents.AckTimeout <= 0 {
		return fmt.Errorf("agent ack timeout must be positive")
	}

	// A stuck attempt may only be reclaimed once no live send could still be running.
	if c.Queue.StaleAfter > 0 && c.Queue.StaleAfter <= c.Agents.AckTimeout+c.Printers.ConnectionTimeout+c.Printers.WriteTimeout {
		return fmt.Errorf("stale_after (%s) must exceed the longest possible send", c.Queue.StaleAfter)
	}

	if c.Agents.RequireToken && c.Auth.AgentTokenSecret == "" {
		return fmt.Errorf("agent token secret is required when agents.require_token is set")
	}

	if c.Archive.Enabled {
		if c.Archive.Path == "" {
			return fmt.Errorf("archive path is required when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			return fmt.Errorf("archive retention must be at least one day")
		}
		if c.Archive.Interval <= 0 {
			return fmt.Errorf("archive interval must be positive")
		}
	}

	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %d: url is required", i)
		}
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
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}
