// Package config holds the application configuration, loaded from an
// optional YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Player   PlayerConfig   `yaml:"player" json:"player"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	EnableCORS bool   `yaml:"enable_cors" json:"enable_cors"`
}

// DatabaseConfig selects and parameterizes the session record store
type DatabaseConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
	Path     string `yaml:"path" json:"path"`
}

// PlayerConfig carries the playback tuning defaults. The hard-coded values
// of the original player are preserved as defaults but stay configurable.
type PlayerConfig struct {
	SampleInterval      time.Duration `yaml:"sample_interval" json:"sample_interval"`
	BehindLiveThreshold float64       `yaml:"behind_live_threshold" json:"behind_live_threshold"`
	SeekStep            float64       `yaml:"seek_step" json:"seek_step"`
	VolumeStep          float64       `yaml:"volume_step" json:"volume_step"`

	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions" json:"max_concurrent_sessions"`
	SessionIdleTimeout    time.Duration `yaml:"session_idle_timeout" json:"session_idle_timeout"`
	CleanupInterval       time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

var (
	current *Config
	mu      sync.RWMutex
)

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8080,
			EnableCORS: true,
		},
		Database: DatabaseConfig{
			Type:     "sqlite",
			Host:     "localhost",
			Port:     5432,
			Username: "stagepass",
			Database: "stagepass",
			Path:     "data/stagepass.db",
		},
		Player: PlayerConfig{
			SampleInterval:        time.Second,
			BehindLiveThreshold:   10,
			SeekStep:              10,
			VolumeStep:            0.1,
			MaxConcurrentSessions: 100,
			SessionIdleTimeout:    2 * time.Hour,
			CleanupInterval:       30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnv(cfg)

	mu.Lock()
	current = cfg
	mu.Unlock()
	return cfg, nil
}

// Get returns the loaded configuration, or the defaults if Load was never
// called
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STAGEPASS_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("STAGEPASS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_TYPE"); v != "" {
		cfg.Database.Type = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STAGEPASS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STAGEPASS_SAMPLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Player.SampleInterval = d
		}
	}
	if v := os.Getenv("STAGEPASS_BEHIND_LIVE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Player.BehindLiveThreshold = f
		}
	}
	if v := os.Getenv("STAGEPASS_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Player.MaxConcurrentSessions = n
		}
	}
}
