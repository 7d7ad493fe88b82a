package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend tags accepted in the configuration file
const (
	BackendSQL = "sql"
	BackendKV  = "kv"
	BackendCRD = "crd"
)

// Config is the layerstore configuration file
type Config struct {
	Backend string        `yaml:"backend"`
	SQL     SQLConfig     `yaml:"sql"`
	KV      KVConfig      `yaml:"kv"`
	CRD     CRDConfig     `yaml:"crd"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SQLConfig configures the relational backend
type SQLConfig struct {
	DSN string `yaml:"dsn"`
}

// KVConfig configures the key-value backend
type KVConfig struct {
	Path string `yaml:"path"`
	// Root is the first segment of every key
	Root string `yaml:"root"`
}

// CRDConfig configures the custom resource backend. An empty Kubeconfig
// selects the in-cluster configuration.
type CRDConfig struct {
	Kubeconfig string `yaml:"kubeconfig"`
	Group      string `yaml:"group"`
	Version    string `yaml:"version"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig configures the metrics endpoint of long running commands
type MetricsConfig struct {
	Addr     string        `yaml:"addr"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Backend: BackendSQL,
		SQL: SQLConfig{
			DSN: "file:/var/lib/layerstore/layerstore.db?_foreign_keys=on",
		},
		KV: KVConfig{
			Path: "/var/lib/layerstore/layerstore.bolt",
			Root: "LINSTOR",
		},
		CRD: CRDConfig{
			Group:   "internal.linstor.linbit.com",
			Version: "v1",
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Addr:     ":9105",
			Interval: 30 * time.Second,
		},
	}
}

// Load reads the YAML file at path on top of Default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings of the selected backend are complete
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQL:
		if c.SQL.DSN == "" {
			return fmt.Errorf("sql.dsn is required for backend %q", c.Backend)
		}
	case BackendKV:
		if c.KV.Path == "" {
			return fmt.Errorf("kv.path is required for backend %q", c.Backend)
		}
		if c.KV.Root == "" {
			return fmt.Errorf("kv.root is required for backend %q", c.Backend)
		}
	case BackendCRD:
		if c.CRD.Group == "" || c.CRD.Version == "" {
			return fmt.Errorf("crd.group and crd.version are required for backend %q", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s or %s)", c.Backend, BackendSQL, BackendKV, BackendCRD)
	}

	if c.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval must be positive, got %s", c.Metrics.Interval)
	}

	switch c.Log.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
