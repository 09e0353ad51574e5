package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/kvlite/internal/db"
	"github.com/dokzlo13/kvlite/internal/kv"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "kvlite.yaml"

// Config represents the application configuration
type Config struct {
	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

// StoreConfig contains database and key-value store settings
type StoreConfig struct {
	Driver        string   `yaml:"driver"`   // sqlite3 (cgo) or sqlite (pure Go)
	Filename      string   `yaml:"filename"` // database file name
	Table         string   `yaml:"table"`
	Storage       string   `yaml:"storage"` // memory, temp or disk
	JournalMode   string   `yaml:"journal_mode"`
	AutoCommit    *bool    `yaml:"auto_commit"` // default: true
	ExportPath    string   `yaml:"export_path"`
	SweepInterval Duration `yaml:"sweep_interval"` // 0 = no background sweeper
}

// IsAutoCommit returns the auto-commit flag with default
func (c *StoreConfig) IsAutoCommit() bool {
	if c.AutoCommit == nil {
		return true
	}
	return *c.AutoCommit
}

// DBOptions returns the options for opening the database
func (c *StoreConfig) DBOptions() db.Options {
	return db.Options{
		Driver:      c.Driver,
		Filename:    c.Filename,
		Storage:     db.StorageMode(c.Storage),
		JournalMode: c.JournalMode,
	}
}

// KVOptions returns the options for the key-value store
func (c *StoreConfig) KVOptions() kv.Options {
	return kv.Options{
		Table:      c.Table,
		AutoCommit: c.IsAutoCommit(),
		ExportPath: c.ExportPath,
	}
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Level)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is present
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file.
// A missing file at DefaultPath yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
			return Default(), nil
		}
		return nil, err
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = db.DriverMattn
	}
	if cfg.Store.Filename == "" {
		cfg.Store.Filename = db.DefaultFilename
	}
	if cfg.Store.Table == "" {
		cfg.Store.Table = kv.DefaultTable
	}
	if cfg.Store.Storage == "" {
		cfg.Store.Storage = string(db.StorageDisk)
	}
	if cfg.Store.JournalMode == "" {
		cfg.Store.JournalMode = db.DefaultJournalMode
	}
	if cfg.Store.ExportPath == "" {
		cfg.Store.ExportPath = kv.DefaultExportPath
	}
	// AutoCommit nil means true, SweepInterval 0 means disabled
}

// Validate checks the store settings
func (cfg *Config) Validate() error {
	if err := cfg.Store.DBOptions().Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if _, err := db.QuoteIdentifier(cfg.Store.Table); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if cfg.Store.SweepInterval < 0 {
		return fmt.Errorf("store: sweep_interval must not be negative")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
