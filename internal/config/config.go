// Package config loads the YAML-backed configuration for the embedded
// block manager service, following the teacher's config layout
// (src/internal/config/config.go): plain structs with yaml tags, unmarshaled
// in one shot.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PoolConfig carries the block manager's two fixed construction parameters
// (§6: num_blocks and block_size).
type PoolConfig struct {
	NumBlocks int `yaml:"num_blocks"`
	BlockSize int `yaml:"block_size"`
}

// ServerConfig configures the httpapi transport shell.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the slog JSON handler.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the top-level configuration document.
type Config struct {
	Pool    PoolConfig    `yaml:"pool"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Pool.NumBlocks <= 0 {
		return nil, fmt.Errorf("config: pool.num_blocks must be positive, got %d", cfg.Pool.NumBlocks)
	}
	if cfg.Pool.BlockSize <= 0 {
		return nil, fmt.Errorf("config: pool.block_size must be positive, got %d", cfg.Pool.BlockSize)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}
