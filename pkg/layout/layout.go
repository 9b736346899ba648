// Package layout fixes the on-disk shape of a workspace root and of the
// units installed inside it. All other packages resolve paths through it
// so the directory names live in exactly one place.
package layout

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/lockfile"
	"github.com/core-tools/hsu-shuriken-go/pkg/manifest"
)

const (
	ShurikensDirName  = "shurikens"
	ProjectsDirName   = "projects"
	BlacksmithDirName = "blacksmith"

	// MetaDirName is the per-unit metadata directory holding the
	// manifest, options, template and lock files.
	MetaDirName = ".ninja"

	OptionsFileName  = "options.yaml"
	TemplateFileName = "config.tmpl"

	// PackageExtension is the file suffix of built packages.
	PackageExtension = ".shuriken"
)

// NormalizeName folds a shuriken name to its canonical on-disk form.
// "Apache" and "apache" refer to the same installed unit.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Root is a workspace root directory.
type Root struct {
	path string
}

// NewRoot resolves path to an absolute workspace root.
func NewRoot(path string) (Root, error) {
	if path == "" {
		return Root{}, errors.NewValidationError("workspace root path is required", nil)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Root{}, errors.NewIOError("failed to resolve workspace root", err).WithContext("path", path)
	}
	return Root{path: abs}, nil
}

func (r Root) Path() string          { return r.path }
func (r Root) ShurikensDir() string  { return filepath.Join(r.path, ShurikensDirName) }
func (r Root) ProjectsDir() string   { return filepath.Join(r.path, ProjectsDirName) }
func (r Root) BlacksmithDir() string { return filepath.Join(r.path, BlacksmithDirName) }

// Ensure creates the three workspace subtrees if they are missing.
func (r Root) Ensure() error {
	for _, dir := range []string{r.ShurikensDir(), r.ProjectsDir(), r.BlacksmithDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewIOError("failed to create workspace directory", err).WithContext("dir", dir)
		}
	}
	return nil
}

// Unit returns the layout of one installed unit. The name is normalized
// here so no caller can reach a mixed-case path.
func (r Root) Unit(name string) Unit {
	return Unit{dir: filepath.Join(r.ShurikensDir(), NormalizeName(name))}
}

// PackagePath returns where a built package for the given id and platform
// tag lands.
func (r Root) PackagePath(id, platform string) string {
	return filepath.Join(r.BlacksmithDir(), id+"-"+platform+PackageExtension)
}

// Unit is the layout of a single installed shuriken.
type Unit struct {
	dir string
}

func (u Unit) Dir() string     { return u.dir }
func (u Unit) MetaDir() string { return filepath.Join(u.dir, MetaDirName) }

func (u Unit) ManifestPath() string { return filepath.Join(u.MetaDir(), manifest.FileName) }
func (u Unit) OptionsPath() string  { return filepath.Join(u.MetaDir(), OptionsFileName) }
func (u Unit) TemplatePath() string { return filepath.Join(u.MetaDir(), TemplateFileName) }
func (u Unit) LockPath() string     { return filepath.Join(u.MetaDir(), lockfile.FileName) }

// Exists reports whether the unit's directory is present.
func (u Unit) Exists() bool {
	info, err := os.Stat(u.dir)
	return err == nil && info.IsDir()
}

// Resolve joins a unit-relative path against the unit directory. An
// absolute path is taken as-is.
func (u Unit) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(u.dir, filepath.FromSlash(path))
}
