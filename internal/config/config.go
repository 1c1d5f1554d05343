// Package config loads the broker's YAML configuration and keeps the
// subset of settings that are safe to change live in sync with the file
// on disk.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the broker's full configuration. Server and Storage.DataDir
// are topology and require a restart to change; everything under Live is
// watched and hot-reloaded (see Manager).
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Live     LiveConfig     `yaml:"live"`
}

// ServerConfig is topology: listen addresses. Changing these requires a
// restart.
type ServerConfig struct {
	BinaryAddr  string `yaml:"binary_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// StorageConfig controls where data lives and how partitions are created.
// DataDir is topology; PartitionCount is the default for newly created
// topics.
type StorageConfig struct {
	DataDir        string `yaml:"data_dir"`
	PartitionCount int    `yaml:"partition_count"`
}

// AuthConfig configures the JWT/PAT issuer. Topology: changing the secret
// invalidates every outstanding token.
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

// DatabaseConfig points the retention policy/hold services at Postgres. An
// empty DSN is valid: retention runs with every policy lookup reporting
// "no policy configured" and every hold check reporting "not held".
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LiveConfig is the subset of settings the fsnotify watcher is allowed to
// swap in without a restart, per the retention/segment/compression/
// backpressure knobs named in the spec.
type LiveConfig struct {
	RetentionInterval    time.Duration `yaml:"retention_interval"`
	RetentionPeriod      time.Duration `yaml:"retention_period"`
	MaxSegmentSize       uint32        `yaml:"max_segment_size"`
	MaxSegmentAge        time.Duration `yaml:"max_segment_age"`
	CompressionThreshold int           `yaml:"compression_threshold"`
	CompressionAlgorithm string        `yaml:"compression_algorithm"`
	MaxInFlightBytesPerS int           `yaml:"max_in_flight_bytes_per_s"`
}

// Load parses a YAML configuration file, applying environment overrides
// on top of it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnv(cfg)
	return cfg, nil
}

// Default returns the configuration used when no file or flag overrides
// a setting.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BinaryAddr:  ":8090",
			HTTPAddr:    ":8080",
			MetricsAddr: ":9090",
			LogLevel:    "info",
		},
		Storage: StorageConfig{
			DataDir:        "./data",
			PartitionCount: 1,
		},
		Auth: AuthConfig{
			AccessTokenTTL: time.Hour,
		},
		Live: LiveConfig{
			RetentionInterval:    time.Hour,
			RetentionPeriod:      7 * 24 * time.Hour,
			MaxSegmentSize:       1 << 30,
			MaxSegmentAge:        7 * 24 * time.Hour,
			CompressionThreshold: 256,
			CompressionAlgorithm: "zstd",
			MaxInFlightBytesPerS: 64 << 20,
		},
	}
}
