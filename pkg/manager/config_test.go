package manager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shuriken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		validate    func(*testing.T, *Config)
	}{
		{
			name: "fully specified config",
			configYAML: `
manager:
  root: /var/lib/ninja
  log_level: "debug"
  http_port: 9000
  stop_timeout: "15s"
`,
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, "/var/lib/ninja", config.Manager.Root)
				assert.Equal(t, "debug", config.Manager.LogLevel)
				assert.Equal(t, 9000, config.Manager.HTTPPort)
				assert.Equal(t, 15*time.Second, config.Manager.StopTimeout)
			},
		},
		{
			name: "defaults fill unset fields",
			configYAML: `
manager:
  root: /var/lib/ninja
`,
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, "/var/lib/ninja", config.Manager.Root)
				assert.Equal(t, "info", config.Manager.LogLevel)
				assert.Equal(t, DefaultHTTPPort, config.Manager.HTTPPort)
				assert.Equal(t, 10*time.Second, config.Manager.StopTimeout)
			},
		},
		{
			name:       "empty file gets full defaults",
			configYAML: "",
			validate: func(t *testing.T, config *Config) {
				assert.NotEmpty(t, config.Manager.Root)
				assert.Equal(t, "info", config.Manager.LogLevel)
			},
		},
		{
			name:        "malformed YAML",
			configYAML:  "manager: [unclosed",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.configYAML)
			config, err := LoadConfigFromFile(path)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, config)
		})
	}
}

func TestLoadConfigFromMissingFile(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeIO))
}

func TestDefaultConfigIsValid(t *testing.T) {
	config, err := DefaultConfig()
	require.NoError(t, err)
	assert.NoError(t, ValidateConfig(config))
	assert.NotEmpty(t, config.Manager.Root)
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{Manager: ManagerConfigOptions{
			Root:        "/var/lib/ninja",
			LogLevel:    "info",
			HTTPPort:    8737,
			StopTimeout: 10 * time.Second,
		}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{
			name:    "empty root",
			mutate:  func(c *Config) { c.Manager.Root = "" },
			message: "root",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Manager.HTTPPort = 70000 },
			message: "port",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Manager.LogLevel = "chatty" },
			message: "log level",
		},
		{
			name:    "negative stop timeout",
			mutate:  func(c *Config) { c.Manager.StopTimeout = -time.Second },
			message: "timeout",
		},
	}

	assert.NoError(t, ValidateConfig(valid()))
	assert.Error(t, ValidateConfig(nil))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)
			err := ValidateConfig(config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestValidateConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
manager:
  root: /var/lib/ninja
  log_level: "warn"
`)
	assert.NoError(t, ValidateConfigFile(path))
	assert.Error(t, ValidateConfigFile(filepath.Join(t.TempDir(), "absent.yaml")))
}
