package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Crypto    CryptoConfig    `koanf:"crypto"`
	Retention RetentionConfig `koanf:"retention"`
	Integrity IntegrityConfig `koanf:"integrity"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int           `koanf:"max_conns"`
	MinConns        int           `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Enabled  bool   `koanf:"enabled"`
}

type CryptoConfig struct {
	// Field-level encryption of event payloads. When enabled, Key must be
	// a base64 or raw 32-byte AES-256 key.
	Enabled bool   `koanf:"enabled"`
	Key     string `koanf:"key"`
}

type RetentionConfig struct {
	// Regulatory minimum: 7 years by default
	HorizonDays   int           `koanf:"horizon_days"`
	SweepEnabled  bool          `koanf:"sweep_enabled"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type IntegrityConfig struct {
	// Rate bound on verification walks so operational tooling is not starved
	EventsPerSecond int           `koanf:"events_per_second"`
	WalkBatchSize   int           `koanf:"walk_batch_size"`
	SnapshotTTL     time.Duration `koanf:"snapshot_ttl"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB: 0,
		},
		Retention: RetentionConfig{
			HorizonDays:   2555,
			SweepInterval: 24 * time.Hour,
		},
		Integrity: IntegrityConfig{
			EventsPerSecond: 5000,
			WalkBatchSize:   500,
			SnapshotTTL:     time.Minute,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional
	if path == "" {
		path = "configs/ledger.yaml"
	}
	_ = k.Load(file.Provider(path), yaml.Parser())

	// Environment variables override everything: LEDGER_DATABASE_URL,
	// LEDGER_RETENTION_HORIZON_DAYS etc. The first token names the section;
	// the rest is the key with its underscores intact, so multi-word keys
	// like horizon_days stay addressable.
	sections := map[string]bool{
		"server": true, "database": true, "redis": true,
		"crypto": true, "retention": true, "integrity": true,
	}
	if err := k.Load(env.Provider("LEDGER_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "LEDGER_"))
		if section, rest, ok := strings.Cut(key, "_"); ok && sections[section] {
			return section + "." + rest
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
