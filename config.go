package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls the daemon's reconnect behaviour. Running without a config
// file is fine; defaults apply.
type Config struct {
	DebounceWindow string `yaml:"debounce_window"` // e.g. "3s"
	Verbose        bool   `yaml:"verbose"`
	Socket         string `yaml:"socket"`

	window time.Duration
}

func defaultConfig() *Config {
	return &Config{DebounceWindow: "3s"}
}

func configPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "btnanny", "config.yaml")
}

func socketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, "btnanny.sock")
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.validate()
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	d, err := time.ParseDuration(c.DebounceWindow)
	if err != nil {
		return fmt.Errorf("debounce_window: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("debounce_window must be positive, got %s", d)
	}
	c.window = d
	if c.Socket == "" {
		c.Socket = socketPath()
	}
	return nil
}
