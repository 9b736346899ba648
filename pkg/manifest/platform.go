package manifest

import (
	"fmt"
	"runtime"

	"gopkg.in/yaml.v3"
)

// PlatformPath is a path that may be declared per platform in a manifest.
// A plain scalar applies everywhere; a {windows, unix} mapping is collapsed
// to the host's entry while the manifest is decoded. After decoding there
// is exactly one concrete path and no caller branches on platform again.
type PlatformPath struct {
	path string
}

// SimplePath wraps an already-concrete path.
func SimplePath(path string) PlatformPath {
	return PlatformPath{path: path}
}

// Path returns the resolved path for the host platform.
func (p PlatformPath) Path() string { return p.path }

// IsZero reports whether no path was declared. yaml.v3 consults this for
// omitempty handling.
func (p PlatformPath) IsZero() bool { return p.path == "" }

func (p PlatformPath) MarshalYAML() (interface{}, error) {
	return p.path, nil
}

func (p *PlatformPath) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		p.path = node.Value
		return nil

	case yaml.MappingNode:
		var keyed struct {
			Windows string `yaml:"windows"`
			Unix    string `yaml:"unix"`
		}
		if err := node.Decode(&keyed); err != nil {
			return err
		}
		if runtime.GOOS == "windows" {
			p.path = keyed.Windows
		} else {
			p.path = keyed.Unix
		}
		return nil
	}

	return fmt.Errorf("platform path must be a scalar or a windows/unix mapping")
}
