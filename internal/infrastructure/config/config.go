package config

import (
	"errors"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		LogLevel string `toml:"log_level"`
	} `toml:"app"`

	Bridge struct {
		Origin           string `toml:"origin"` // e.g. https://bridge.example.com
		ReconnectDelayMs int    `toml:"reconnect_delay_ms"`
		KeepaliveSec     int    `toml:"keepalive_sec"`
		HealthProbeMin   int    `toml:"health_probe_min"`
		DialTimeoutSec   int    `toml:"dial_timeout_sec"`
		PendingWindowMs  int    `toml:"pending_window_ms"`
	} `toml:"bridge"`

	Redis struct {
		Enabled  bool   `toml:"enabled"`
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		Prefix   string `toml:"prefix"`
		Channel  string `toml:"channel"`
	} `toml:"redis"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.Bridge.ReconnectDelayMs <= 0 {
		cfg.Bridge.ReconnectDelayMs = 3000
	}
	if cfg.Bridge.KeepaliveSec <= 0 {
		cfg.Bridge.KeepaliveSec = 25
	}
	if cfg.Bridge.HealthProbeMin <= 0 {
		cfg.Bridge.HealthProbeMin = 4
	}
	if cfg.Bridge.DialTimeoutSec <= 0 {
		cfg.Bridge.DialTimeoutSec = 10
	}
	if cfg.Bridge.PendingWindowMs <= 0 {
		cfg.Bridge.PendingWindowMs = 3000
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "bridgesync"
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/bridgesync.db"
	}
}

func validate(cfg *Config) error {
	cfg.Bridge.Origin = strings.TrimSpace(cfg.Bridge.Origin)
	if cfg.Bridge.Origin == "" {
		return errors.New("bridge.origin is empty")
	}
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}
	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return errors.New("postgres.dsn empty but enabled")
	}
	return nil
}
