// Package manifest loads, validates and writes the per-shuriken descriptor
// that declares identity, maintenance, configuration, logs and tools.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/fsx"
	"github.com/core-tools/hsu-shuriken-go/pkg/options"
)

// FileName is the manifest's name inside a unit's metadata directory.
const FileName = "manifest.yaml"

// ShurikenType classifies what kind of workload a shuriken is.
type ShurikenType string

const (
	TypeDaemon     ShurikenType = "daemon"
	TypeExecutable ShurikenType = "executable"
)

// ManagementType selects the maintenance variant of a shuriken.
type ManagementType string

const (
	ManagementNative ManagementType = "native"
	ManagementScript ManagementType = "script"
)

// Manifest is the top-level descriptor stored as manifest.yaml.
type Manifest struct {
	Shuriken Identity `yaml:"shuriken"`
	Config   *Config  `yaml:"config,omitempty"`
	Logs     *Logs    `yaml:"logs,omitempty"`
	Tools    []Tool   `yaml:"tools,omitempty"`
}

// Identity carries the shuriken's identity and its maintenance declaration.
// Management is optional: a unit without one holds content only and cannot
// be started.
type Identity struct {
	Name         string       `yaml:"name"`
	ID           string       `yaml:"id"`
	Version      string       `yaml:"version"`
	Type         ShurikenType `yaml:"type"`
	RequireAdmin bool         `yaml:"require-admin"`
	Management   *Management  `yaml:"management,omitempty"`
}

// Management is a union selected by Type. Native units declare a binary to
// spawn; script units declare a management script exposing start()/stop().
type Management struct {
	Type       ManagementType `yaml:"type"`
	BinPath    PlatformPath   `yaml:"bin-path,omitempty"`
	Args       []string       `yaml:"args,omitempty"`
	Cwd        PlatformPath   `yaml:"cwd,omitempty"`
	ScriptPath string         `yaml:"script-path,omitempty"`
}

// Config declares where the rendered configuration lands relative to the
// unit root, plus optional seed defaults for the options store.
type Config struct {
	ConfigPath string                   `yaml:"config-path"`
	Options    map[string]options.Value `yaml:"options,omitempty"`
}

// Logs declares the unit's log file path relative to the unit root.
type Logs struct {
	LogPath string `yaml:"log-path"`
}

// Tool is a named helper script an operator can run against the unit.
type Tool struct {
	Name        string `yaml:"name"`
	Script      string `yaml:"script"`
	Description string `yaml:"description,omitempty"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read manifest file", err).WithContext("path", path)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.NewValidationError("failed to parse manifest YAML", err).WithContext("path", path)
	}

	if err := m.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid manifest", err).WithContext("path", path)
	}

	return &m, nil
}

// Save writes the manifest atomically.
func (m *Manifest) Save(path string) error {
	if err := m.Validate(); err != nil {
		return errors.NewValidationError("refusing to save invalid manifest", err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return errors.NewInternalError("failed to marshal manifest", err)
	}
	if err := fsx.WriteFileAtomic(path, data, 0o644); err != nil {
		return errors.NewIOError("failed to write manifest file", err).WithContext("path", path)
	}
	return nil
}

// Validate checks the structural invariants of the manifest.
func (m *Manifest) Validate() error {
	if m.Shuriken.Name == "" {
		return errors.NewValidationError("shuriken name is required", nil)
	}
	if m.Shuriken.ID == "" {
		return errors.NewValidationError("shuriken id is required", nil)
	}
	if m.Shuriken.Version == "" {
		return errors.NewValidationError("shuriken version is required", nil)
	}

	if err := validateShurikenType(m.Shuriken.Type); err != nil {
		return err
	}

	if m.Shuriken.Management != nil {
		if err := validateManagement(m.Shuriken.Management); err != nil {
			return err
		}
	}

	if m.Config != nil && m.Config.ConfigPath == "" {
		return errors.NewValidationError("config-path is required when a config block is present", nil)
	}

	for i, tool := range m.Tools {
		if tool.Name == "" || tool.Script == "" {
			return errors.NewValidationError(
				fmt.Sprintf("tool at index %d needs both a name and a script", i),
				nil,
			)
		}
	}

	return nil
}

// Scaffold builds the minimal manifest written at install time for a
// package that did not carry one. Such a unit holds content only until an
// operator adds a management declaration.
func Scaffold(name, id, version string) *Manifest {
	return &Manifest{
		Shuriken: Identity{
			Name:    name,
			ID:      id,
			Version: version,
			Type:    TypeExecutable,
		},
	}
}

// FindTool resolves a tool by name.
func (m *Manifest) FindTool(name string) (Tool, bool) {
	for _, tool := range m.Tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return Tool{}, false
}

func validateShurikenType(t ShurikenType) error {
	switch t {
	case TypeDaemon, TypeExecutable:
		return nil
	}
	return errors.NewValidationError(
		fmt.Sprintf("unsupported shuriken type: %s", t),
		nil,
	).WithContext("supported_types", "daemon, executable")
}

func validateManagement(mgmt *Management) error {
	switch mgmt.Type {
	case ManagementNative:
		if mgmt.BinPath.IsZero() {
			return errors.NewValidationError("bin-path is required for native management", nil)
		}
		if mgmt.ScriptPath != "" {
			return errors.NewValidationError("script-path must not be set for native management", nil)
		}
		return nil

	case ManagementScript:
		if mgmt.ScriptPath == "" {
			return errors.NewValidationError("script-path is required for script management", nil)
		}
		if !mgmt.BinPath.IsZero() || len(mgmt.Args) > 0 || !mgmt.Cwd.IsZero() {
			return errors.NewValidationError("only script-path may be set for script management", nil)
		}
		return nil
	}

	return errors.NewValidationError(
		fmt.Sprintf("unsupported management type: %s", mgmt.Type),
		nil,
	).WithContext("supported_types", "native, script")
}
