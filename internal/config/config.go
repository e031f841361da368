// Package config provides configuration loading and management for Talon.
// Connection profiles, watch behavior, filtering, the cache backend and
// the optional forwarders/HTTP API all live in a single YAML file under
// the user's home directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mercury0/talon/internal/domain"
)

// ErrNoActiveProfile is returned when an operation needs credentials but
// no profile is selected.
var ErrNoActiveProfile = errors.New("no active profile configured")

// StorageBackend selects the local alert cache implementation.
type StorageBackend string

const (
	// StorageBackendSQLite stores alerts in a SQLite file under the
	// config directory. This is the default.
	StorageBackendSQLite StorageBackend = "sqlite"
	// StorageBackendPostgres stores alerts in PostgreSQL.
	StorageBackendPostgres StorageBackend = "postgres"
	// StorageBackendMemory keeps alerts in process memory only.
	StorageBackendMemory StorageBackend = "memory"
)

// IsValid returns true if the storage backend is valid.
func (b StorageBackend) IsValid() bool {
	return b == StorageBackendSQLite || b == StorageBackendPostgres || b == StorageBackendMemory
}

// Config represents the complete application configuration.
type Config struct {
	Profiles      []Profile          `yaml:"profiles"`
	ActiveProfile string             `yaml:"active_profile"`
	Logger        LoggerConfig       `yaml:"log"`
	Watch         WatchConfig        `yaml:"watch"`
	Filter        domain.AlertFilter `yaml:"filter"`
	Cache         CacheConfig        `yaml:"cache"`
	Forward       ForwardConfig      `yaml:"forward"`
	Server        ServerConfig       `yaml:"server"`
}

// Profile holds one set of API credentials. Secrets are stored in
// cleartext; the file itself is written with 0600 permissions.
type Profile struct {
	ID           string `yaml:"id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
	CreatedAt    string `yaml:"created_at"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// WatchConfig holds the poll loop settings.
type WatchConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Lookback     time.Duration `yaml:"lookback"`
	Output       string        `yaml:"output"`   // "console", "jsonl" or "csv"
	LogFile      string        `yaml:"log_file"` // optional plain-text copy of accepted alerts
}

// CacheConfig selects and parameterizes the local alert store.
type CacheConfig struct {
	Backend  StorageBackend `yaml:"backend"`
	Path     string         `yaml:"path"` // sqlite database file
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int32  `yaml:"max_open_conns"`
	MaxIdleConns int32  `yaml:"max_idle_conns"`
}

// ForwardConfig holds the optional message-broker forwarders.
type ForwardConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
	NATS  NATSConfig  `yaml:"nats"`
}

// KafkaConfig holds Kafka forwarder settings.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// NATSConfig holds NATS forwarder settings.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ServerConfig holds the optional read-only HTTP API settings.
type ServerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DefaultPath returns the config file location under the user's home
// directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".talon", "config.yaml"), nil
}

// Load reads configuration from the specified YAML file path.
// Returns an error if the file cannot be read or parsed; callers are
// expected to fall back to Default() rather than abort startup.
func Load(path string) (*Config, error) {
	// Clean the path to prevent path traversal attacks
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults for any unset values
	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Save writes the configuration back to the given path, creating the
// parent directory if needed. The file holds cleartext secrets, so it is
// written with owner-only permissions.
func Save(cfg *Config, path string) error {
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(cleanPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyDefaults sets sensible default values for configuration fields
// that are not explicitly set in the config file.
func applyDefaults(cfg *Config) {
	// Watch defaults
	if cfg.Watch.PollInterval == 0 {
		cfg.Watch.PollInterval = 30 * time.Second
	}
	if cfg.Watch.Lookback == 0 {
		cfg.Watch.Lookback = 60 * time.Minute
	}
	if cfg.Watch.Output == "" {
		cfg.Watch.Output = "console"
	}

	// Cache defaults
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = StorageBackendSQLite
	}
	if cfg.Cache.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Cache.Path = filepath.Join(home, ".talon", "alerts.db")
	}

	// Postgres defaults
	if cfg.Cache.Postgres.Host == "" {
		cfg.Cache.Postgres.Host = "localhost"
	}
	if cfg.Cache.Postgres.Port == 0 {
		cfg.Cache.Postgres.Port = 5432
	}
	if cfg.Cache.Postgres.SSLMode == "" {
		cfg.Cache.Postgres.SSLMode = "disable"
	}
	if cfg.Cache.Postgres.MaxOpenConns == 0 {
		cfg.Cache.Postgres.MaxOpenConns = 10
	}
	if cfg.Cache.Postgres.MaxIdleConns == 0 {
		cfg.Cache.Postgres.MaxIdleConns = 2
	}

	// Forwarder defaults
	if len(cfg.Forward.Kafka.Brokers) == 0 {
		cfg.Forward.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Forward.Kafka.Topic == "" {
		cfg.Forward.Kafka.Topic = "talon-alerts"
	}
	if cfg.Forward.NATS.URL == "" {
		cfg.Forward.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Forward.NATS.Subject == "" {
		cfg.Forward.NATS.Subject = "talon.alerts"
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	// Logger defaults
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
}

// Active returns the currently selected profile.
func (c *Config) Active() (*Profile, error) {
	if c.ActiveProfile == "" {
		return nil, ErrNoActiveProfile
	}
	for i := range c.Profiles {
		if c.Profiles[i].ID == c.ActiveProfile {
			return &c.Profiles[i], nil
		}
	}
	return nil, fmt.Errorf("active profile %q not found: %w", c.ActiveProfile, ErrNoActiveProfile)
}

// FindProfile locates a profile by exact id, or by unique id prefix so
// shortened UUIDs work at the prompt.
func (c *Config) FindProfile(id string) (*Profile, bool) {
	if id == "" {
		return nil, false
	}
	for i := range c.Profiles {
		if c.Profiles[i].ID == id {
			return &c.Profiles[i], true
		}
	}
	var match *Profile
	for i := range c.Profiles {
		if len(id) <= len(c.Profiles[i].ID) && c.Profiles[i].ID[:len(id)] == id {
			if match != nil {
				return nil, false // ambiguous prefix
			}
			match = &c.Profiles[i]
		}
	}
	return match, match != nil
}

// AddProfile appends a profile and selects it when no profile is active.
func (c *Config) AddProfile(p Profile) {
	c.Profiles = append(c.Profiles, p)
	if c.ActiveProfile == "" {
		c.ActiveProfile = p.ID
	}
}

// RemoveProfile deletes the profile with the given id and returns true
// if one was removed. If it was the active profile, the first remaining
// profile (if any) becomes active.
func (c *Config) RemoveProfile(id string) bool {
	for i := range c.Profiles {
		if c.Profiles[i].ID != id {
			continue
		}
		c.Profiles = append(c.Profiles[:i], c.Profiles[i+1:]...)
		if c.ActiveProfile == id {
			c.ActiveProfile = ""
			if len(c.Profiles) > 0 {
				c.ActiveProfile = c.Profiles[0].ID
			}
		}
		return true
	}
	return false
}

// Address returns the full server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
