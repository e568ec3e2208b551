// Package config loads engine configuration from a YAML file with
// environment variable overrides for deployment-injected settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration.
type Config struct {
	Version string `yaml:"version"`
	// Region of the control plane, where STS and the catalog bucket live.
	Region string `yaml:"region"`

	Engine  Engine  `yaml:"engine,omitempty"`
	Storage Storage `yaml:"storage,omitempty"`
	Blob    Blob    `yaml:"blob,omitempty"`
}

// Engine tunes the worker pools and SDK call policy.
type Engine struct {
	Workers        int           `yaml:"workers"`
	BatchSize      int           `yaml:"batch_size"`
	ScanRole       string        `yaml:"scan_role"`
	SDKCallTimeout time.Duration `yaml:"sdk_call_timeout"`
	SDKMaxRetries  int           `yaml:"sdk_max_retries"`
}

// Storage selects and parameterizes the store backend.
type Storage struct {
	// Backend is "postgres", "bolt" or "memory".
	Backend string `yaml:"backend"`
	// Postgres connection parts.
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	// Path of the bolt file when backend is "bolt".
	Path string `yaml:"path"`
}

// Blob locates the catalog bucket.
type Blob struct {
	Bucket string `yaml:"bucket"`
}

// Defaults applied when the file or a field is absent.
const (
	DefaultWorkers        = 10
	DefaultBatchSize      = 1000
	DefaultScanRole       = "magpie-scan"
	DefaultSDKCallTimeout = 30 * time.Second
	DefaultSDKMaxRetries  = 5
)

// LoadConfig loads configuration from file. A missing file yields
// pure defaults; env overrides are applied either way.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.Engine.Workers <= 0 {
		c.Engine.Workers = DefaultWorkers
	}
	if c.Engine.BatchSize <= 0 {
		c.Engine.BatchSize = DefaultBatchSize
	}
	if c.Engine.ScanRole == "" {
		c.Engine.ScanRole = DefaultScanRole
	}
	if c.Engine.SDKCallTimeout <= 0 {
		c.Engine.SDKCallTimeout = DefaultSDKCallTimeout
	}
	if c.Engine.SDKMaxRetries <= 0 {
		c.Engine.SDKMaxRetries = DefaultSDKMaxRetries
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.Port == 0 {
		c.Storage.Port = 5432
	}
	if c.Storage.SSLMode == "" {
		c.Storage.SSLMode = "require"
	}
}

func (c *Config) applyEnv() {
	setString(&c.Region, "MAGPIE_REGION")
	setInt(&c.Engine.Workers, "MAGPIE_WORKERS")
	setInt(&c.Engine.BatchSize, "MAGPIE_BATCH_SIZE")
	setString(&c.Engine.ScanRole, "MAGPIE_SCAN_ROLE")
	setString(&c.Storage.Backend, "MAGPIE_STORAGE_BACKEND")
	setString(&c.Storage.Host, "MAGPIE_DB_HOST")
	setInt(&c.Storage.Port, "MAGPIE_DB_PORT")
	setString(&c.Storage.Database, "MAGPIE_DB_NAME")
	setString(&c.Storage.User, "MAGPIE_DB_USER")
	setString(&c.Storage.Password, "MAGPIE_DB_PASSWORD")
	setString(&c.Storage.SSLMode, "MAGPIE_DB_SSLMODE")
	setString(&c.Storage.Path, "MAGPIE_BOLT_PATH")
	setString(&c.Blob.Bucket, "MAGPIE_CATALOG_BUCKET")
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// Validate ensures config has required fields.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "bolt":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the bolt backend")
		}
	case "postgres":
		if c.Storage.Host == "" || c.Storage.Database == "" || c.Storage.User == "" {
			return fmt.Errorf("storage.host, storage.database and storage.user are required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// DSN renders the Postgres connection URL.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Storage.User, c.Storage.Password, c.Storage.Host, c.Storage.Port,
		c.Storage.Database, c.Storage.SSLMode)
}
