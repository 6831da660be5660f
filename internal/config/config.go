// internal/config/config.go

// Package config loads firetail's JSON configuration with env overrides,
// writing defaults on first run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	LogLevel   string `json:"log_level"`
	ListenAddr string `json:"listen_addr"`
	Upstream   struct {
		// URL of the primary firehose JSONL stream.
		URL string `json:"url"`
	} `json:"upstream"`
	Firehose struct {
		DedupCap                int  `json:"dedup_cap"`
		StalenessSeconds        int  `json:"staleness_seconds"`
		SuppressRelayHeartbeats bool `json:"suppress_relay_heartbeats"`
		RelayBuffer             int  `json:"relay_buffer"`
		WatchdogTimeoutSeconds  int  `json:"watchdog_timeout_seconds"`
	} `json:"firehose"`
	Store struct {
		IDCacheCap      int `json:"id_cache_cap"`
		ContentCacheCap int `json:"content_cache_cap"`
	} `json:"store"`
	Tokens struct {
		Enabled  bool   `json:"enabled"`
		Encoding string `json:"encoding"`
	} `json:"tokens"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".firetail", "config.json")
}

func defaults() *Config {
	cfg := &Config{}
	cfg.LogLevel = "info"
	cfg.ListenAddr = ":8140"
	cfg.Firehose.DedupCap = 2048
	cfg.Firehose.StalenessSeconds = 30
	cfg.Firehose.SuppressRelayHeartbeats = true
	cfg.Firehose.RelayBuffer = 256
	cfg.Firehose.WatchdogTimeoutSeconds = 60
	cfg.Store.IDCacheCap = 1000
	cfg.Store.ContentCacheCap = 500
	cfg.Tokens.Enabled = true
	cfg.Tokens.Encoding = "cl100k_base"
	return cfg
}

// Load reads the config at path, writing defaults first if it does not
// exist, then applies env overrides (highest precedence).
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	if url := os.Getenv("FIRETAIL_UPSTREAM_URL"); url != "" {
		cfg.Upstream.URL = url
	}
	if addr := os.Getenv("FIRETAIL_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if level := os.Getenv("FIRETAIL_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

// Save writes the config atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Staleness returns the relay staleness threshold as a duration.
func (c *Config) Staleness() time.Duration {
	return time.Duration(c.Firehose.StalenessSeconds) * time.Second
}

// WatchdogTimeout returns the relay watchdog timeout as a duration.
func (c *Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.Firehose.WatchdogTimeoutSeconds) * time.Second
}

// asMap round-trips the config through JSON into a nested map.
func asMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns all config values as a flat dot-keyed map.
func ListValues(cfg *Config) (map[string]any, error) {
	m, err := asMap(cfg)
	if err != nil {
		return nil, err
	}
	return Flatten(m), nil
}

// GetValue loads the config at path and returns the value for the given
// dot-separated key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	values, err := ListValues(cfg)
	if err != nil {
		return nil, err
	}
	val, ok := values[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return val, nil
}

// SetValue loads the config at path, sets the given dot-separated key, and
// saves. Values are coerced to the field's current type: bools and numbers
// parse from strings, everything else is kept as a string.
func SetValue(path, key, value string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	flat, err := ListValues(cfg)
	if err != nil {
		return err
	}
	current, ok := flat[key]
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}

	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("key %s expects a bool: %w", key, err)
		}
		flat[key] = b
	case float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("key %s expects a number: %w", key, err)
		}
		flat[key] = f
	default:
		flat[key] = value
	}

	data, err := json.Marshal(Unflatten(flat))
	if err != nil {
		return err
	}
	updated := defaults()
	if err := json.Unmarshal(data, updated); err != nil {
		return err
	}
	return Save(path, updated)
}
