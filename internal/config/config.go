// Package config loads dimred run and server configuration from YAML with
// DIMRED_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StoreConfig selects the result store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ServerConfig configures dimred serve.
type ServerConfig struct {
	GRPCPort          int    `yaml:"grpc_port"`
	HTTPPort          int    `yaml:"http_port"`
	TLSCert           string `yaml:"tls_cert"`
	TLSKey            string `yaml:"tls_key"`
	MaxConcurrentRuns int    `yaml:"max_concurrent_runs"`
}

// LogConfig configures the default slog logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration.
type Config struct {
	Method string `yaml:"method"`
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
	NPCA   int    `yaml:"n_pca"`
	Test   bool   `yaml:"test"`

	Store  StoreConfig  `yaml:"store"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result. An empty path or a missing file
// yields the defaults. A .env file in the working directory is loaded
// first; variables already set in the environment take precedence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyDefaults(cfg *Config) {
	if cfg.Method == "" {
		cfg.Method = "umap_logCPM_1kHVG"
	}
	if cfg.NPCA == 0 {
		cfg.NPCA = 50
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Backend == "file" && cfg.Store.Path == "" {
		cfg.Store.Path = "dimred-results"
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50051
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MaxConcurrentRuns == 0 {
		cfg.Server.MaxConcurrentRuns = 2
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func applyEnv(cfg *Config) {
	cfg.Method = getEnv("DIMRED_METHOD", cfg.Method)
	cfg.Input = getEnv("DIMRED_INPUT", cfg.Input)
	cfg.Output = getEnv("DIMRED_OUTPUT", cfg.Output)
	cfg.NPCA = getEnvInt("DIMRED_N_PCA", cfg.NPCA)
	cfg.Test = getEnvBool("DIMRED_TEST", cfg.Test)
	cfg.Store.Backend = getEnv("DIMRED_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Path = getEnv("DIMRED_STORE_PATH", cfg.Store.Path)
	cfg.Server.GRPCPort = getEnvInt("DIMRED_GRPC_PORT", cfg.Server.GRPCPort)
	cfg.Server.HTTPPort = getEnvInt("DIMRED_HTTP_PORT", cfg.Server.HTTPPort)
	cfg.Server.TLSCert = getEnv("DIMRED_TLS_CERT", cfg.Server.TLSCert)
	cfg.Server.TLSKey = getEnv("DIMRED_TLS_KEY", cfg.Server.TLSKey)
	cfg.Log.Level = getEnv("DIMRED_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("DIMRED_LOG_FORMAT", cfg.Log.Format)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.NPCA < 1 {
		return fmt.Errorf("n_pca must be >= 1, got %d", c.NPCA)
	}
	switch c.Store.Backend {
	case "memory", "file":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	for name, port := range map[string]int{"grpc_port": c.Server.GRPCPort, "http_port": c.Server.HTTPPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("tls_cert and tls_key must be set together")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
