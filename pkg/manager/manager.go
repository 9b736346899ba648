// Package manager owns the shuriken root directory and orchestrates every
// operation against installed units: installation, removal, configuration,
// lifecycle, packaging and tool execution.
package manager

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/core-tools/hsu-shuriken-go/pkg/armory"
	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/layout"
	"github.com/core-tools/hsu-shuriken-go/pkg/lockfile"
	"github.com/core-tools/hsu-shuriken-go/pkg/logging"
	"github.com/core-tools/hsu-shuriken-go/pkg/manifest"
	"github.com/core-tools/hsu-shuriken-go/pkg/options"
	"github.com/core-tools/hsu-shuriken-go/pkg/scripting"
	"github.com/core-tools/hsu-shuriken-go/pkg/supervisor"
)

// Shuriken is a registry view of one installed unit. State is computed from
// lock presence at the time of the call, never cached.
type Shuriken struct {
	Name     string
	Manifest *manifest.Manifest
	State    supervisor.State
}

type ShurikenRegistry interface {
	Install(data []byte) (*Shuriken, error)
	InstallFile(path string) (*Shuriken, error)
	Remove(name string) error
	Get(name string) (*Shuriken, error)
	List() []Shuriken
	Count() int
	Refresh() error
	Projects() ([]string, error)
}

type ShurikenLifecycle interface {
	Start(name string) error
	Stop(name string) error
	Status(name string) (supervisor.State, error)
}

type ShurikenConfigurator interface {
	Configure(name string) error
	SetOption(name, key string, value options.Value) error
	SetOptions(name string, values map[string]options.Value) error
	GetOption(name, key string) (options.Value, error)
	ToggleOption(name, key string) (bool, error)
}

type ShurikenWorkshop interface {
	Forge(meta *armory.Metadata, source string) (string, error)
	Lockpick(name string) error
	RunTool(name, tool string) error
}

type Manager interface {
	ShurikenRegistry
	ShurikenLifecycle
	ShurikenConfigurator
	ShurikenWorkshop
	Root() layout.Root
}

type ManagerOptions struct {
	// Root is the directory holding shurikens/, projects/ and blacksmith/.
	Root string
	// GracefulTimeout bounds Stop's wait before a forced kill; zero selects
	// the supervisor default.
	GracefulTimeout time.Duration
}

type shurikenManager struct {
	root   layout.Root
	sup    *supervisor.Supervisor
	units  map[string]*manifest.Manifest
	locks  map[string]*sync.Mutex
	mutex  sync.Mutex
	logger logging.Logger
}

// NewManager ensures the root layout exists and loads the unit registry
// from disk.
func NewManager(opts ManagerOptions, logger logging.Logger) (Manager, error) {
	root, err := layout.NewRoot(opts.Root)
	if err != nil {
		return nil, err
	}
	if err := root.Ensure(); err != nil {
		return nil, err
	}

	units, err := scanUnits(root, logger)
	if err != nil {
		return nil, err
	}

	logger.Infof("Shuriken manager ready, root: %s, units: %d", root.Path(), len(units))
	return &shurikenManager{
		root:   root,
		sup:    supervisor.New(opts.GracefulTimeout, logger),
		units:  units,
		locks:  make(map[string]*sync.Mutex),
		logger: logger,
	}, nil
}

// scanUnits loads every unit directory carrying a manifest. A directory
// whose manifest fails to parse is skipped with a warning so one broken
// unit cannot take the whole registry down.
func scanUnits(root layout.Root, logger logging.Logger) (map[string]*manifest.Manifest, error) {
	units := make(map[string]*manifest.Manifest)

	entries, err := os.ReadDir(root.ShurikensDir())
	if err != nil {
		if os.IsNotExist(err) {
			return units, nil
		}
		return nil, errors.NewIOError("failed to read shurikens directory", err).
			WithContext("dir", root.ShurikensDir())
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := layout.NormalizeName(entry.Name())
		unit := root.Unit(name)
		if _, err := os.Stat(unit.ManifestPath()); err != nil {
			continue
		}
		m, err := manifest.Load(unit.ManifestPath())
		if err != nil {
			logger.Warnf("Skipping unit with unreadable manifest, name: %s, error: %v", name, err)
			continue
		}
		units[name] = m
	}

	return units, nil
}

func (m *shurikenManager) Root() layout.Root {
	return m.root
}

// nameLock returns the mutex serializing operations against one unit name.
func (m *shurikenManager) nameLock(name string) *sync.Mutex {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// lookup resolves a registered unit by normalized name. The unit directory
// must still exist; a registry entry whose directory vanished is reported
// as missing rather than acted on.
func (m *shurikenManager) lookup(name string) (*manifest.Manifest, layout.Unit, error) {
	m.mutex.Lock()
	mf, ok := m.units[name]
	m.mutex.Unlock()

	unit := m.root.Unit(name)
	if !ok {
		return nil, unit, errors.NewNotFoundError("no such shuriken", nil).WithContext("name", name)
	}
	if !unit.Exists() {
		return nil, unit, errors.NewNotFoundError("shuriken directory is missing, refresh the registry", nil).
			WithContext("name", name).
			WithContext("dir", unit.Dir())
	}
	return mf, unit, nil
}

func (m *shurikenManager) registerUnit(name string, mf *manifest.Manifest) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.units[name] = mf
}

func (m *shurikenManager) dropUnit(name string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.units, name)
}

func (m *shurikenManager) Get(name string) (*Shuriken, error) {
	normalized := layout.NormalizeName(name)
	mf, unit, err := m.lookup(normalized)
	if err != nil {
		return nil, err
	}
	return &Shuriken{Name: normalized, Manifest: mf, State: m.sup.Status(unit)}, nil
}

func (m *shurikenManager) List() []Shuriken {
	m.mutex.Lock()
	names := make([]string, 0, len(m.units))
	manifests := make(map[string]*manifest.Manifest, len(m.units))
	for name, mf := range m.units {
		names = append(names, name)
		manifests[name] = mf
	}
	m.mutex.Unlock()

	sort.Strings(names)

	list := make([]Shuriken, 0, len(names))
	for _, name := range names {
		list = append(list, Shuriken{
			Name:     name,
			Manifest: manifests[name],
			State:    m.sup.Status(m.root.Unit(name)),
		})
	}
	return list
}

func (m *shurikenManager) Count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.units)
}

// Refresh rebuilds the registry from disk, picking up units installed or
// edited out of band and dropping entries whose directories vanished.
func (m *shurikenManager) Refresh() error {
	units, err := scanUnits(m.root, m.logger)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	m.units = units
	m.mutex.Unlock()

	m.logger.Debugf("Shuriken registry refreshed, units: %d", len(units))
	return nil
}

func (m *shurikenManager) Projects() ([]string, error) {
	entries, err := os.ReadDir(m.root.ProjectsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIOError("failed to read projects directory", err).
			WithContext("dir", m.root.ProjectsDir())
	}

	var projects []string
	for _, entry := range entries {
		if entry.IsDir() {
			projects = append(projects, entry.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}

func (m *shurikenManager) Start(name string) error {
	normalized := layout.NormalizeName(name)
	lock := m.nameLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	mf, unit, err := m.lookup(normalized)
	if err != nil {
		return err
	}
	return m.sup.Start(mf, unit)
}

func (m *shurikenManager) Stop(name string) error {
	normalized := layout.NormalizeName(name)
	lock := m.nameLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	mf, unit, err := m.lookup(normalized)
	if err != nil {
		return err
	}
	return m.sup.Stop(mf, unit)
}

func (m *shurikenManager) Status(name string) (supervisor.State, error) {
	normalized := layout.NormalizeName(name)
	_, unit, err := m.lookup(normalized)
	if err != nil {
		return supervisor.StateIdle, err
	}
	return m.sup.Status(unit), nil
}

// Lockpick force-removes a unit's lock file so an operator can recover
// from a corrupted or orphaned lock. It never signals any process.
func (m *shurikenManager) Lockpick(name string) error {
	normalized := layout.NormalizeName(name)
	lock := m.nameLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	_, unit, err := m.lookup(normalized)
	if err != nil {
		return err
	}

	if err := lockfile.Remove(unit.LockPath()); err != nil {
		return err
	}
	m.logger.Warnf("Lock removed for shuriken %s", normalized)
	return nil
}

// RunTool executes one of the unit's manifest-declared tool scripts with
// the unit root as working directory.
func (m *shurikenManager) RunTool(name, tool string) error {
	normalized := layout.NormalizeName(name)
	mf, unit, err := m.lookup(normalized)
	if err != nil {
		return err
	}

	t, ok := mf.FindTool(tool)
	if !ok {
		return errors.NewNotFoundError("no such tool", nil).
			WithContext("name", normalized).
			WithContext("tool", tool)
	}

	m.logger.Infof("Running tool %s for shuriken %s", tool, normalized)
	engine := scripting.NewEngine(unit.Dir(), m.logger)
	return engine.ExecuteFile(t.Script)
}
