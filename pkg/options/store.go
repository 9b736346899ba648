package options

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/fsx"
)

// Store holds the option set of a single shuriken, keyed by top-level
// option name.
type Store map[string]Value

// LoadStore reads an options document from path. A missing file yields
// an empty store so a freshly installed shuriken starts configurable.
func LoadStore(path string) (Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Store{}, nil
		}
		return nil, errors.NewIOError("failed to read options file", err).WithContext("path", path)
	}

	store := Store{}
	if err := yaml.Unmarshal(data, &store); err != nil {
		return nil, errors.NewFormatError("failed to parse options file", err).WithContext("path", path)
	}
	return store, nil
}

// Save persists the store to path with an atomic replace, so a crash
// mid-write never leaves a torn options document behind.
func (s Store) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.NewInternalError("failed to marshal options", err)
	}
	if err := fsx.WriteFileAtomic(path, data, 0o644); err != nil {
		return errors.NewIOError("failed to write options file", err).WithContext("path", path)
	}
	return nil
}

// Get resolves a possibly dotted key against the store.
func (s Store) Get(key string) (Value, bool) {
	head, rest, nested := splitKey(key)
	v, ok := s[head]
	if !ok {
		return Value{}, false
	}
	if !nested {
		return v, true
	}
	return v.GetPath(rest)
}

// Set writes a top-level option, replacing any previous value.
func (s Store) Set(key string, v Value) {
	s[key] = v
}

// Toggle flips a top-level boolean option and returns the new state.
func (s Store) Toggle(key string) (bool, error) {
	v, ok := s[key]
	if !ok {
		return false, errors.NewNotFoundError("option not found", nil).WithContext("key", key)
	}
	b, ok := v.AsBool()
	if !ok {
		return false, errors.NewValidationError("option is not a boolean", nil).
			WithContext("key", key).
			WithContext("kind", v.Kind().String())
	}
	s[key] = Bool(!b)
	return !b, nil
}

func splitKey(key string) (head, rest string, nested bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[:i], key[i+1:], true
		}
	}
	return key, "", false
}
