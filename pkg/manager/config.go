package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
)

// Config is the tool-level configuration file structure (shuriken.yaml).
type Config struct {
	Manager ManagerConfigOptions `yaml:"manager"`
}

// ManagerConfigOptions holds the manager-level settings.
type ManagerConfigOptions struct {
	Root        string        `yaml:"root,omitempty"`
	LogLevel    string        `yaml:"log_level,omitempty"`
	HTTPPort    int           `yaml:"http_port,omitempty"`
	StopTimeout time.Duration `yaml:"stop_timeout,omitempty"`
}

// DefaultHTTPPort is used by the standalone daemon when no port is
// configured.
const DefaultHTTPPort = 8737

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() (*Config, error) {
	config := &Config{}
	if err := setConfigDefaults(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigFromFile loads manager configuration from a YAML file.
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	if err := setConfigDefaults(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}

	return &config, nil
}

// ValidateConfig validates the entire configuration structure.
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}
	if err := validateManagerConfig(&config.Manager); err != nil {
		return errors.NewValidationError("invalid manager configuration", err)
	}
	return nil
}

// ValidateConfigFile loads and validates a configuration file.
func ValidateConfigFile(filename string) error {
	config, err := LoadConfigFromFile(filename)
	if err != nil {
		return err
	}
	return ValidateConfig(config)
}

func setConfigDefaults(config *Config) error {
	if config.Manager.Root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.NewIOError("failed to resolve home directory for default root", err)
		}
		config.Manager.Root = filepath.Join(home, ".ninja")
	}
	if config.Manager.LogLevel == "" {
		config.Manager.LogLevel = "info"
	}
	if config.Manager.HTTPPort == 0 {
		config.Manager.HTTPPort = DefaultHTTPPort
	}
	if config.Manager.StopTimeout == 0 {
		config.Manager.StopTimeout = 10 * time.Second
	}
	return nil
}

func validateManagerConfig(config *ManagerConfigOptions) error {
	if config.Root == "" {
		return errors.NewValidationError("root directory cannot be empty", nil)
	}

	if config.HTTPPort <= 0 || config.HTTPPort > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid HTTP port number: %d", config.HTTPPort),
			nil,
		).WithContext("valid_range", "1-65535")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	valid := false
	for _, level := range validLogLevels {
		if config.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.LogLevel),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	if config.StopTimeout < 0 {
		return errors.NewValidationError("stop timeout cannot be negative", nil)
	}

	return nil
}
