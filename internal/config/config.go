// Package config loads hub configuration from an optional yaml file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml values like "5m" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full hub configuration.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`

	// DatabaseURL selects the Postgres store when set.
	DatabaseURL string `yaml:"databaseUrl"`

	// BoltPath selects the embedded bbolt store when set (and DatabaseURL
	// is not). With neither set the hub runs on the in-memory store.
	BoltPath string `yaml:"boltPath"`

	// RedisAddr enables the Redis snapshot cache in front of the store.
	RedisAddr string `yaml:"redisAddr"`

	// CacheTTL bounds the lifetime of cached snapshots.
	CacheTTL Duration `yaml:"cacheTtl"`

	// JWTSecret signs and verifies connection tokens. Required.
	JWTSecret string `yaml:"jwtSecret"`

	// SendBuffer is the per-connection outbound frame buffer.
	SendBuffer int `yaml:"sendBuffer"`
}

func Default() Config {
	return Config{
		Addr:       ":8081",
		CacheTTL:   Duration(5 * time.Minute),
		SendBuffer: 256,
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides: COLLABHUB_ADDR, DATABASE_URL, BOLT_PATH,
// REDIS_ADDR, JWT_SECRET.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("COLLABHUB_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("BOLT_PATH"); v != "" {
		cfg.BoltPath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	return cfg, nil
}
