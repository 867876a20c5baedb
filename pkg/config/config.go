// Package config assembles a node's settings from FLOWKEY_* environment
// variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pixperk/flowkey/pkg/env"
	"github.com/pixperk/flowkey/pkg/plan"
	"gopkg.in/yaml.v3"
)

type Backend string

const (
	BackendRaft   Backend = "raft"
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

type Config struct {
	NodeID        string `yaml:"node_id"`
	RaftAddr      string `yaml:"raft_addr"`
	AdvertiseAddr string `yaml:"advertise_addr"`
	GRPCAddr      string `yaml:"grpc_addr"`
	HTTPAddr      string `yaml:"http_addr"`
	DataDir       string `yaml:"data_dir"`
	Bootstrap     bool   `yaml:"bootstrap"`
	JoinAddr      string `yaml:"join_addr"` //grpc address of an existing member

	Backend   Backend `yaml:"lock_backend"`
	RedisAddr string  `yaml:"redis_addr"`

	DatabaseURL    string `yaml:"database_url"`
	InternalAPIURL string `yaml:"internal_api_url"`
	EngineToken    string `yaml:"engine_token"`
	Edition        string `yaml:"edition"`

	LockTTL         time.Duration `yaml:"lock_ttl"`
	LockTimeout     time.Duration `yaml:"lock_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func Default() Config {
	return Config{
		RaftAddr:        "127.0.0.1:7000",
		GRPCAddr:        ":9000",
		HTTPAddr:        ":8080",
		DataDir:         "./data",
		Backend:         BackendRaft,
		RedisAddr:       "localhost:6379",
		Edition:         string(plan.EditionCommunity),
		LockTTL:         30 * time.Second,
		LockTimeout:     30 * time.Second,
		SweepInterval:   500 * time.Millisecond,
		ShutdownTimeout: 10 * time.Second,
	}
}

// FromEnv starts from Default and applies every FLOWKEY_* variable that is set.
func FromEnv() (Config, error) {
	d := Default()
	cfg := Config{
		NodeID:         env.String("FLOWKEY_NODE_ID", d.NodeID),
		RaftAddr:       env.String("FLOWKEY_RAFT_ADDR", d.RaftAddr),
		AdvertiseAddr:  env.String("FLOWKEY_ADVERTISE_ADDR", d.AdvertiseAddr),
		GRPCAddr:       env.String("FLOWKEY_GRPC_ADDR", d.GRPCAddr),
		HTTPAddr:       env.String("FLOWKEY_HTTP_ADDR", d.HTTPAddr),
		DataDir:        env.String("FLOWKEY_DATA_DIR", d.DataDir),
		JoinAddr:       env.String("FLOWKEY_JOIN_ADDR", d.JoinAddr),
		Backend:        Backend(env.String("FLOWKEY_LOCK_BACKEND", string(d.Backend))),
		RedisAddr:      env.String("FLOWKEY_REDIS_ADDR", d.RedisAddr),
		DatabaseURL:    env.String("FLOWKEY_DATABASE_URL", d.DatabaseURL),
		InternalAPIURL: env.String("FLOWKEY_INTERNAL_API_URL", d.InternalAPIURL),
		EngineToken:    env.String("FLOWKEY_ENGINE_TOKEN", d.EngineToken),
		Edition:        env.String("FLOWKEY_EDITION", d.Edition),
	}

	var err error
	if cfg.Bootstrap, err = env.Bool("FLOWKEY_BOOTSTRAP", d.Bootstrap); err != nil {
		return Config{}, err
	}
	if cfg.LockTTL, err = env.Duration("FLOWKEY_LOCK_TTL", d.LockTTL); err != nil {
		return Config{}, err
	}
	if cfg.LockTimeout, err = env.Duration("FLOWKEY_LOCK_TIMEOUT", d.LockTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = env.Duration("FLOWKEY_SWEEP_INTERVAL", d.SweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = env.Duration("FLOWKEY_SHUTDOWN_TIMEOUT", d.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in the YAML file at path onto c.
// Keys absent from the file keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Load reads the environment, overlays path if non-empty and validates the result.
func Load(path string) (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.NodeID != "" {
		if _, err := uuid.Parse(c.NodeID); err != nil {
			return fmt.Errorf("FLOWKEY_NODE_ID: %w", err)
		}
	}

	switch c.Backend {
	case BackendRaft:
		if c.RaftAddr == "" {
			return errors.New("FLOWKEY_RAFT_ADDR is required for the raft backend")
		}
		if c.DataDir == "" {
			return errors.New("FLOWKEY_DATA_DIR is required for the raft backend")
		}
		if c.Bootstrap && c.JoinAddr != "" {
			return errors.New("FLOWKEY_BOOTSTRAP and FLOWKEY_JOIN_ADDR are mutually exclusive")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("FLOWKEY_REDIS_ADDR is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("FLOWKEY_LOCK_BACKEND: unknown backend %q", c.Backend)
	}

	if c.GRPCAddr == "" {
		return errors.New("FLOWKEY_GRPC_ADDR is required")
	}
	if c.LockTTL <= 0 {
		return errors.New("FLOWKEY_LOCK_TTL must be positive")
	}
	if c.LockTimeout < 0 {
		return errors.New("FLOWKEY_LOCK_TIMEOUT must be >= 0")
	}
	if c.SweepInterval <= 0 {
		return errors.New("FLOWKEY_SWEEP_INTERVAL must be positive")
	}
	if _, err := plan.ParseEdition(c.Edition); err != nil {
		return fmt.Errorf("FLOWKEY_EDITION: %w", err)
	}

	if c.InternalAPIURL != "" {
		u, err := url.Parse(c.InternalAPIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("FLOWKEY_INTERNAL_API_URL: %q is not an http(s) url", c.InternalAPIURL)
		}
		if c.EngineToken == "" {
			return errors.New("FLOWKEY_ENGINE_TOKEN is required when FLOWKEY_INTERNAL_API_URL is set")
		}
	}
	return nil
}

// NodeUUID returns the configured node id, or a fresh one when unset.
func (c Config) NodeUUID() (uuid.UUID, bool, error) {
	if c.NodeID == "" {
		return uuid.New(), true, nil
	}
	id, err := uuid.Parse(c.NodeID)
	return id, false, err
}
