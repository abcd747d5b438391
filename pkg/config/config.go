// Package config provides dbforge's typed configuration, loaded from
// defaults, an optional YAML file, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dbforge/dbforge/pkg/logger"
)

// PathsConfig controls where dbforge keeps its persisted state.
type PathsConfig struct {
	Root string `yaml:"root" env:"DBFORGE_ROOT"`
}

// RegistryConfig controls the artifact registry dbforge downloads
// engine binaries from.
type RegistryConfig struct {
	Host            string        `yaml:"host" env:"DBFORGE_REGISTRY_HOST"`
	DownloadTimeout time.Duration `yaml:"download_timeout" env:"DBFORGE_DOWNLOAD_TIMEOUT"`
	MaxRetries      int           `yaml:"max_retries" env:"DBFORGE_DOWNLOAD_RETRIES"`
}

// ToolRegistryConfig holds a staleness window for the tool-path cache.
// internal/toolregistry does not read it; the registry uses its own
// StaleAfter constant.
type ToolRegistryConfig struct {
	StaleAfter time.Duration `yaml:"stale_after" env:"DBFORGE_TOOL_STALE_AFTER"`
}

// SupervisorConfig controls process-lifecycle timing.
type SupervisorConfig struct {
	StartTimeout        time.Duration `yaml:"start_timeout" env:"DBFORGE_START_TIMEOUT"`
	GracefulTimeout      time.Duration `yaml:"graceful_timeout" env:"DBFORGE_GRACEFUL_TIMEOUT"`
	SignalTimeout        time.Duration `yaml:"signal_timeout" env:"DBFORGE_SIGNAL_TIMEOUT"`
	WindowsSignalTimeout time.Duration `yaml:"windows_signal_timeout" env:"DBFORGE_WINDOWS_SIGNAL_TIMEOUT"`
	ForcedSettleTimeout  time.Duration `yaml:"forced_settle_timeout" env:"DBFORGE_FORCED_SETTLE_TIMEOUT"`
	PollInterval         time.Duration `yaml:"poll_interval" env:"DBFORGE_POLL_INTERVAL"`
}

// Config is dbforge's top-level configuration structure.
type Config struct {
	Logging    logger.Config      `yaml:"logging"`
	Paths      PathsConfig        `yaml:"paths"`
	Registry   RegistryConfig     `yaml:"registry"`
	Tools      ToolRegistryConfig `yaml:"tools"`
	Supervisor SupervisorConfig   `yaml:"supervisor"`
}

// New returns a Config populated with defaults.
func New() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Paths: PathsConfig{
			Root: filepath.Join(home, ".dbforge"),
		},
		Registry: RegistryConfig{
			Host:            "https://artifacts.dbforge.dev",
			DownloadTimeout: 5 * time.Minute,
			MaxRetries:      3,
		},
		Tools: ToolRegistryConfig{
			StaleAfter: 7 * 24 * time.Hour,
		},
		Supervisor: SupervisorConfig{
			StartTimeout:         60 * time.Second,
			GracefulTimeout:      10 * time.Second,
			SignalTimeout:        2 * time.Second,
			WindowsSignalTimeout: 5 * time.Second,
			ForcedSettleTimeout:  3 * time.Second,
			PollInterval:         200 * time.Millisecond,
		},
	}
}

// Load loads configuration from an optional .env file, an optional YAML
// file (DBFORGE_CONFIG_FILE or ./dbforge.yaml), and environment variable
// overrides, in that precedence order (env wins).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("DBFORGE_CONFIG_FILE"))
	if path == "" {
		path = "dbforge.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
