// Package config loads YAML configuration with ${VAR} environment
// interpolation and an optional .env file next to the config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the YAML configuration shared by the binaries.
type Config struct {
	Version   int             `yaml:"version"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Worker    WorkerConfig    `yaml:"worker"`
	Chains    []ChainConfig   `yaml:"chains"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type MetricsConfig struct {
	Addr      string `yaml:"addr"`      // empty disables the metrics server
	Namespace string `yaml:"namespace"` // defaults to contest_engine
}

type LifecycleConfig struct {
	Interval    time.Duration `yaml:"interval"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	TopK        int           `yaml:"top_k"`
}

type WorkerConfig struct {
	MaxAttempts   int      `yaml:"max_attempts"`
	NotifyEnabled bool     `yaml:"notify_enabled"`
	NotifyTargets []string `yaml:"notify_targets"`
}

type ChainConfig struct {
	ChainID int64  `yaml:"chain_id"`
	RPCURL  string `yaml:"rpc_url"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func (c *Config) applyDefaults() {
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "contest_engine"
	}
	if c.Lifecycle.Interval <= 0 {
		c.Lifecycle.Interval = time.Minute
	}
	if c.Lifecycle.CallTimeout <= 0 {
		c.Lifecycle.CallTimeout = 30 * time.Second
	}
	if c.Lifecycle.TopK <= 0 {
		c.Lifecycle.TopK = 10
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 3
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	seen := make(map[int64]bool, len(c.Chains))
	for i, chain := range c.Chains {
		if chain.ChainID <= 0 {
			return fmt.Errorf("chains[%d]: chain_id must be positive", i)
		}
		if seen[chain.ChainID] {
			return fmt.Errorf("chains[%d]: duplicate chain_id %d", i, chain.ChainID)
		}
		seen[chain.ChainID] = true
		if chain.RPCURL == "" {
			return fmt.Errorf("chains[%d]: rpc_url is required", i)
		}
	}
	if c.Worker.NotifyEnabled && len(c.Worker.NotifyTargets) == 0 {
		return errors.New("worker: notify_enabled requires at least one notify target")
	}
	return nil
}

// RPCURL returns the configured RPC endpoint for a chain, if any.
func (c *Config) RPCURL(chainID int64) (string, bool) {
	for _, chain := range c.Chains {
		if chain.ChainID == chainID {
			return chain.RPCURL, true
		}
	}
	return "", false
}
