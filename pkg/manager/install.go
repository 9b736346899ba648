package manager

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/core-tools/hsu-shuriken-go/pkg/armory"
	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/fsx"
	"github.com/core-tools/hsu-shuriken-go/pkg/layout"
	"github.com/core-tools/hsu-shuriken-go/pkg/lockfile"
	"github.com/core-tools/hsu-shuriken-go/pkg/manifest"
	"github.com/core-tools/hsu-shuriken-go/pkg/options"
	"github.com/core-tools/hsu-shuriken-go/pkg/scripting"
)

// checkPlatform accepts a package whose platform tag is "any" or mentions
// the host OS or architecture.
func checkPlatform(tag string) error {
	if tag == "any" || strings.Contains(tag, runtime.GOOS) || strings.Contains(tag, runtime.GOARCH) {
		return nil
	}
	return errors.NewPlatformMismatchError("package does not support this platform", nil).
		WithContext("package_platform", tag).
		WithContext("host_os", runtime.GOOS).
		WithContext("host_arch", runtime.GOARCH)
}

// InstallFile reads a .shuriken package from disk and installs it.
func (m *shurikenManager) InstallFile(path string) (*Shuriken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("package file does not exist", nil).WithContext("path", path)
		}
		return nil, errors.NewIOError("failed to read package file", err).WithContext("path", path)
	}
	return m.Install(data)
}

// Install decodes a package, checks platform compatibility and extracts it
// into a fresh unit directory. A post-install script failure is reported to
// the caller but the extracted unit stays installed.
func (m *shurikenManager) Install(data []byte) (*Shuriken, error) {
	meta, archive, err := armory.Decode(data)
	if err != nil {
		return nil, err
	}
	if err := checkPlatform(meta.Platform); err != nil {
		return nil, err
	}

	name := layout.NormalizeName(meta.Name)
	m.logger.Infof("Installing shuriken %s, version: %s, platform: %s", name, meta.Version, meta.Platform)

	lock := m.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	unit := m.root.Unit(name)
	if unit.Exists() {
		return nil, errors.NewInstallConflictError("a shuriken with this name is already installed", nil).
			WithContext("name", name)
	}

	if err := os.MkdirAll(unit.Dir(), 0o755); err != nil {
		return nil, errors.NewIOError("failed to create unit directory", err).WithContext("dir", unit.Dir())
	}
	if err := armory.ExtractArchive(archive, unit.Dir()); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(unit.MetaDir(), 0o755); err != nil {
		return nil, errors.NewIOError("failed to create unit metadata directory", err).WithContext("dir", unit.MetaDir())
	}

	mf, err := m.materializeManifest(meta, unit)
	if err != nil {
		return nil, err
	}
	if err := seedOptions(mf, unit); err != nil {
		return nil, err
	}

	m.registerUnit(name, mf)

	if meta.Postinstall != "" {
		m.logger.Infof("Running post-install script for %s", name)
		engine := scripting.NewEngine(unit.Dir(), m.logger)
		if err := engine.ExecuteFile(meta.Postinstall); err != nil {
			m.logger.Errorf("Post-install script failed for %s, extracted files are kept, error: %v", name, err)
			return nil, errors.NewScriptError("post-install script failed, the extracted unit is kept", err).
				WithContext("name", name).
				WithContext("script", meta.Postinstall)
		}
	}

	m.logger.Infof("Shuriken %s installed", name)
	return &Shuriken{Name: name, Manifest: mf, State: m.sup.Status(unit)}, nil
}

// materializeManifest loads the manifest the package shipped, or scaffolds
// a minimal one from the package metadata when it shipped none.
func (m *shurikenManager) materializeManifest(meta *armory.Metadata, unit layout.Unit) (*manifest.Manifest, error) {
	if _, err := os.Stat(unit.ManifestPath()); err == nil {
		return manifest.Load(unit.ManifestPath())
	}

	m.logger.Debugf("Package carries no manifest, scaffolding one, name: %s", meta.Name)
	mf := manifest.Scaffold(meta.Name, meta.ID, meta.Version)
	if err := mf.Save(unit.ManifestPath()); err != nil {
		return nil, err
	}
	return mf, nil
}

// seedOptions materializes manifest-declared option defaults into the
// options store, only when no store exists yet.
func seedOptions(mf *manifest.Manifest, unit layout.Unit) error {
	if mf.Config == nil || len(mf.Config.Options) == 0 {
		return nil
	}
	if _, err := os.Stat(unit.OptionsPath()); err == nil {
		return nil
	}

	store := options.Store(mf.Config.Options)
	return store.Save(unit.OptionsPath())
}

// Remove deletes an installed unit. A unit holding a lock must be stopped
// first.
func (m *shurikenManager) Remove(name string) error {
	normalized := layout.NormalizeName(name)
	lock := m.nameLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	unit := m.root.Unit(normalized)
	if !unit.Exists() {
		return errors.NewNotFoundError("no such shuriken", nil).WithContext("name", normalized)
	}
	if lockfile.Exists(unit.LockPath()) {
		return errors.NewStillRunningError("shuriken appears to be running, stop it before removing", nil).
			WithContext("name", normalized)
	}

	if err := os.RemoveAll(unit.Dir()); err != nil {
		return errors.NewIOError("failed to delete unit directory", err).WithContext("dir", unit.Dir())
	}

	m.dropUnit(normalized)
	m.logger.Infof("Shuriken %s removed", normalized)
	return nil
}

// Forge builds a .shuriken package from an installed unit or a project
// directory into blacksmith/ and returns the written path.
func (m *shurikenManager) Forge(meta *armory.Metadata, source string) (string, error) {
	if meta == nil {
		return "", errors.NewValidationError("package metadata cannot be nil", nil)
	}
	if err := meta.Validate(); err != nil {
		return "", err
	}

	src, err := m.resolveForgeSource(source)
	if err != nil {
		return "", err
	}

	archive, err := armory.BuildArchive(src)
	if err != nil {
		return "", err
	}
	data, err := armory.Encode(meta, archive)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(m.root.BlacksmithDir(), 0o755); err != nil {
		return "", errors.NewIOError("failed to create blacksmith directory", err).
			WithContext("dir", m.root.BlacksmithDir())
	}

	out := m.root.PackagePath(meta.ID, meta.Platform)
	if err := fsx.WriteFileAtomic(out, data, 0o644); err != nil {
		return "", errors.NewIOError("failed to write package file", err).WithContext("path", out)
	}

	m.logger.Infof("Forged package %s from %s", out, src)
	return out, nil
}

// resolveForgeSource accepts an absolute directory, an installed unit name
// or a project name.
func (m *shurikenManager) resolveForgeSource(source string) (string, error) {
	if source == "" {
		return "", errors.NewValidationError("forge source cannot be empty", nil)
	}
	if filepath.IsAbs(source) {
		return source, nil
	}

	candidates := []string{
		filepath.Join(m.root.ShurikensDir(), layout.NormalizeName(source)),
		filepath.Join(m.root.ProjectsDir(), source),
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", errors.NewNotFoundError("forge source is neither an installed shuriken nor a project", nil).
		WithContext("source", source)
}
