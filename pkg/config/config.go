// Package config provides YAML-based configuration loading for a mesh node.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Node identifies this station in the mesh
	Node NodeConfig `mapstructure:"node"`

	// Mesh tunes routing, forwarding and discovery
	Mesh MeshConfig `mapstructure:"mesh"`

	// Radio selects and configures the transceiver backend
	Radio RadioConfig `mapstructure:"radio"`

	// Diag controls diagnostic route snapshots
	Diag DiagConfig `mapstructure:"diag"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DiagConfig describes the optional route snapshot export.
type DiagConfig struct {
	// RoutesFile is rewritten every SnapshotMS; empty disables the export.
	RoutesFile string `mapstructure:"routes_file"`
	// Format is a codec name: json, cbor or proto.
	Format     string `mapstructure:"format"`
	SnapshotMS int    `mapstructure:"snapshot_ms"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/loramesh.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Node:  NodeConfig{Addr: 1, Name: "loramesh-node"},
		Mesh:  defaultMesh(),
		Radio: defaultRadio(),
		Diag:  DiagConfig{Format: "json", SnapshotMS: 10000},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix LORAMESH and `.`/`-` are replaced with `_`.
// Example: LORAMESH_MESH_HELLO_INTERVAL_MS=2000
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LORAMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("node.addr", cfg.Node.Addr)
	v.SetDefault("node.name", cfg.Node.Name)
	seedMesh(v, cfg.Mesh)
	seedRadio(v, cfg.Radio)
	v.SetDefault("diag.routes_file", cfg.Diag.RoutesFile)
	v.SetDefault("diag.format", cfg.Diag.Format)
	v.SetDefault("diag.snapshot_ms", cfg.Diag.SnapshotMS)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("LORAMESH_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `loramesh`
		v.SetConfigName("loramesh")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".loramesh"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if err := c.Node.validate(); err != nil {
		return err
	}
	if err := c.Mesh.validate(); err != nil {
		return err
	}
	if err := c.Radio.validate(); err != nil {
		return err
	}
	c.Diag.Format = strings.ToLower(strings.TrimSpace(c.Diag.Format))
	switch c.Diag.Format {
	case "":
		c.Diag.Format = "json"
	case "json", "cbor", "proto":
	default:
		return fmt.Errorf("invalid diag.format: %q", c.Diag.Format)
	}
	if c.Diag.SnapshotMS <= 0 {
		c.Diag.SnapshotMS = 10000
	}
	return nil
}
