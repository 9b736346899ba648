package manager

import (
	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/layout"
	"github.com/core-tools/hsu-shuriken-go/pkg/options"
	"github.com/core-tools/hsu-shuriken-go/pkg/templater"
)

// Configure renders the unit's config template with its current options.
func (m *shurikenManager) Configure(name string) error {
	normalized := layout.NormalizeName(name)
	lock := m.nameLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	mf, unit, err := m.lookup(normalized)
	if err != nil {
		return err
	}
	if mf.Config == nil {
		return errors.NewValidationError("shuriken declares no config block", nil).
			WithContext("name", normalized)
	}

	store, err := options.LoadStore(unit.OptionsPath())
	if err != nil {
		return err
	}

	return templater.New(store, unit, m.logger).GenerateConfig(mf.Config.ConfigPath)
}

// SetOption persists one option value to the unit's store.
func (m *shurikenManager) SetOption(name, key string, value options.Value) error {
	return m.SetOptions(name, map[string]options.Value{key: value})
}

// SetOptions persists a batch of option values in one store write.
func (m *shurikenManager) SetOptions(name string, values map[string]options.Value) error {
	if len(values) == 0 {
		return nil
	}

	normalized := layout.NormalizeName(name)
	lock := m.nameLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	_, unit, err := m.lookup(normalized)
	if err != nil {
		return err
	}

	store, err := options.LoadStore(unit.OptionsPath())
	if err != nil {
		return err
	}
	for key, value := range values {
		store.Set(key, value)
	}
	return store.Save(unit.OptionsPath())
}

// GetOption reads one option value, resolving dotted paths into nested
// maps.
func (m *shurikenManager) GetOption(name, key string) (options.Value, error) {
	normalized := layout.NormalizeName(name)
	_, unit, err := m.lookup(normalized)
	if err != nil {
		return options.Value{}, err
	}

	store, err := options.LoadStore(unit.OptionsPath())
	if err != nil {
		return options.Value{}, err
	}

	v, ok := store.Get(key)
	if !ok {
		return options.Value{}, errors.NewNotFoundError("option is not set", nil).
			WithContext("name", normalized).
			WithContext("key", key)
	}
	return v, nil
}

// ToggleOption flips a boolean option and persists the store, returning
// the new value.
func (m *shurikenManager) ToggleOption(name, key string) (bool, error) {
	normalized := layout.NormalizeName(name)
	lock := m.nameLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	_, unit, err := m.lookup(normalized)
	if err != nil {
		return false, err
	}

	store, err := options.LoadStore(unit.OptionsPath())
	if err != nil {
		return false, err
	}
	flipped, err := store.Toggle(key)
	if err != nil {
		return false, err
	}
	if err := store.Save(unit.OptionsPath()); err != nil {
		return false, err
	}
	return flipped, nil
}
