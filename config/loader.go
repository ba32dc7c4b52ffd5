package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader handles loading configuration from various sources
type Loader struct {
	// ConfigFile is the path to the YAML configuration file
	ConfigFile string

	// EnvFiles are .env files loaded into the process environment before
	// overrides are read. Missing files are ignored.
	EnvFiles []string

	// EnvPrefix is the prefix for environment variables (defaults to "KERNEL")
	EnvPrefix string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		EnvPrefix: "KERNEL",
	}
}

// WithConfigFile sets the configuration file path
func (l *Loader) WithConfigFile(path string) *Loader {
	l.ConfigFile = path
	return l
}

// WithEnvFiles sets the .env files to load
func (l *Loader) WithEnvFiles(files ...string) *Loader {
	l.EnvFiles = files
	return l
}

// WithEnvPrefix sets the environment variable prefix
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.EnvPrefix = prefix
	return l
}

// Load loads configuration from all sources in priority order:
// 1. Default configuration
// 2. Configuration file (if specified)
// 3. .env files (if present)
// 4. Environment variables
func (l *Loader) Load() (*Config, error) {
	config := Default()

	if l.ConfigFile != "" {
		if err := l.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if len(l.EnvFiles) > 0 {
		l.loadEnvFiles()
	}

	l.loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func (l *Loader) loadFromFile(config *Config) error {
	data, err := os.ReadFile(l.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", l.ConfigFile, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config file: %w", err)
	}

	return nil
}

// loadEnvFiles loads each existing .env file. Variables already present in
// the environment win, as with godotenv.Load.
func (l *Loader) loadEnvFiles() {
	for _, f := range l.EnvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// Non-fatal: a malformed .env leaves the environment untouched.
		_ = godotenv.Load(f)
	}
}

// loadFromEnv loads configuration from environment variables
func (l *Loader) loadFromEnv(config *Config) {
	if val := l.getEnv("NAME"); val != "" {
		config.Name = val
	}

	// Logging configuration
	if val := l.getEnv("LOGGING_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := l.getEnv("LOGGING_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := l.getEnv("LOGGING_DEVELOPMENT"); val != "" {
		config.Logging.Development = l.parseBool(val, config.Logging.Development)
	}

	// Container configuration
	if val := l.getEnv("CONTAINER_MAX_RESOLUTION_DEPTH"); val != "" {
		config.Container.MaxResolutionDepth = l.parseInt(val, config.Container.MaxResolutionDepth)
	}

	// Extensions configuration
	if val := l.getEnv("EXTENSIONS_CONFLICT_POLICY"); val != "" {
		var p ConflictPolicy
		if err := p.UnmarshalText([]byte(val)); err == nil {
			config.Extensions.ConflictPolicy = p
		}
	}

	// Metrics configuration
	if val := l.getEnv("METRICS_ENABLED"); val != "" {
		config.Metrics.Enabled = l.parseBool(val, config.Metrics.Enabled)
	}
	if val := l.getEnv("METRICS_NAMESPACE"); val != "" {
		config.Metrics.Namespace = val
	}
}

// getEnv gets an environment variable with the configured prefix
func (l *Loader) getEnv(key string) string {
	return os.Getenv(l.EnvPrefix + "_" + key)
}

// parseBool parses a boolean string, returning fallback on error
func (l *Loader) parseBool(val string, fallback bool) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

// parseInt parses an integer string, returning fallback on error
func (l *Loader) parseInt(val string, fallback int) int {
	if i, err := strconv.Atoi(val); err == nil {
		return i
	}
	return fallback
}

// Save saves the configuration to a YAML file
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}
