package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type ServerConfig struct {
	Port            int    `toml:"port"`
	Domain          string `toml:"domain"`            // Local mail domain, e.g. "postbox.local"
	UsernameIsEmail bool   `toml:"username_is_email"` // Usernames are full addresses rather than local parts

	RequestTimeout time.Duration `toml:"request_timeout"` // Deadline for mail operations, including blacklist calls
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// Fail policies for the blacklist service.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

type BlacklistConfig struct {
	Address     string        `toml:"address"`      // host:port of the blacklist service
	Timeout     time.Duration `toml:"timeout"`      // Hard bound for one request/response exchange
	IdleTimeout time.Duration `toml:"idle_timeout"` // Silence that ends a response without a terminator
	Concurrency int           `toml:"concurrency"`  // Parallel URL checks, 1 keeps them sequential
	FailPolicy  string        `toml:"fail_policy"`  // "open" or "closed"
}

type JWTConfig struct {
	Secret string        `toml:"secret"` // For JWT signing
	TTL    time.Duration `toml:"ttl"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type RateLimitConfig struct {
	Requests int           `toml:"requests"`
	Window   time.Duration `toml:"window"`
}

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Blacklist BlacklistConfig `toml:"blacklist"`
	JWT       JWTConfig       `toml:"jwt"`
	Log       LogConfig       `toml:"log"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// Default returns a configuration populated with default values
func Default() *Config {
	var config Config

	config.Server.Port = 3000
	config.Server.Domain = "postbox.local"
	config.Server.RequestTimeout = 30 * time.Second

	config.Storage.DataDir = "./data"

	config.Blacklist.Address = "127.0.0.1:7070"
	config.Blacklist.Timeout = 5 * time.Second
	config.Blacklist.IdleTimeout = 40 * time.Millisecond
	config.Blacklist.Concurrency = 4
	config.Blacklist.FailPolicy = FailOpen

	config.JWT.TTL = 24 * time.Hour

	config.Log.Level = "info"

	config.RateLimit.Requests = 100
	config.RateLimit.Window = time.Minute

	return &config
}

func LoadConfig(filepath string) (*Config, error) {
	config := Default()

	// Load config file
	if _, err := toml.DecodeFile(filepath, config); err != nil {
		return nil, err
	}

	config.Blacklist.FailPolicy = strings.ToLower(strings.TrimSpace(config.Blacklist.FailPolicy))
	config.Server.Domain = strings.ToLower(strings.TrimSpace(config.Server.Domain))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir is required")
	}

	if c.Blacklist.Address == "" {
		return fmt.Errorf("blacklist address is required")
	}

	if c.Blacklist.Timeout <= 0 {
		return fmt.Errorf("blacklist timeout must be positive")
	}

	if c.Blacklist.IdleTimeout <= 0 || c.Blacklist.IdleTimeout >= c.Blacklist.Timeout {
		return fmt.Errorf("blacklist idle_timeout must be positive and shorter than timeout")
	}

	if c.Blacklist.Concurrency < 1 {
		c.Blacklist.Concurrency = 1
	}

	switch c.Blacklist.FailPolicy {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("blacklist fail_policy must be %q or %q, got %q", FailOpen, FailClosed, c.Blacklist.FailPolicy)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	return nil
}

// FailsOpen reports whether blacklist outages are treated as "not blacklisted"
func (c *BlacklistConfig) FailsOpen() bool {
	return c.FailPolicy != FailClosed
}
