// Package config defines the Labelpool application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "12h".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level Labelpool configuration.
type Config struct {
	Server   ServerConfig `json:"server" yaml:"server"`
	Auth     AuthConfig   `json:"auth" yaml:"auth"`
	Redis    RedisConfig  `json:"redis" yaml:"redis"`
	DataDir  string       `json:"data_dir" yaml:"data_dir"`
	LogLevel string       `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	JWTSecret string       `json:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL  Duration     `json:"token_ttl" yaml:"token_ttl"`
	Users     []UserConfig `json:"users" yaml:"users"`
}

// UserConfig defines a single API user.
type UserConfig struct {
	ID           string `json:"id" yaml:"id"`
	Role         string `json:"role" yaml:"role"`                   // "annotator", "reviewer", "auditor", "admin"
	PasswordHash string `json:"password_hash" yaml:"password_hash"` // bcrypt hash
}

// RedisConfig controls the optional project-config cache. An empty Addr
// disables caching and the store is read directly.
type RedisConfig struct {
	Addr     string   `json:"addr,omitempty" yaml:"addr"`
	Password string   `json:"password,omitempty" yaml:"password"`
	DB       int      `json:"db,omitempty" yaml:"db"`
	CacheTTL Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			TokenTTL: Duration(12 * time.Hour),
		},
		Redis: RedisConfig{
			CacheTTL: Duration(5 * time.Minute),
		},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
