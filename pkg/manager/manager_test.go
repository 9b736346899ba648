package manager

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-shuriken-go/pkg/armory"
	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/lockfile"
	"github.com/core-tools/hsu-shuriken-go/pkg/logging"
	"github.com/core-tools/hsu-shuriken-go/pkg/manifest"
	"github.com/core-tools/hsu-shuriken-go/pkg/options"
	"github.com/core-tools/hsu-shuriken-go/pkg/supervisor"
)

func newTestManager(t *testing.T) Manager {
	t.Helper()
	mgr, err := NewManager(
		ManagerOptions{Root: t.TempDir()},
		logging.NewLogger("manager-test: ", logging.LogFuncs{}),
	)
	require.NoError(t, err)
	return mgr
}

func testMeta(name string) *armory.Metadata {
	return &armory.Metadata{
		Name:     name,
		ID:       "test." + strings.ToLower(name),
		Platform: "any",
		Version:  "1.0.0",
	}
}

// buildPackage forges a .shuriken in memory from a file map keyed by
// slash-separated relative paths.
func buildPackage(t *testing.T, meta *armory.Metadata, files map[string]string) []byte {
	t.Helper()
	src := t.TempDir()
	for name, content := range files {
		path := filepath.Join(src, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	archive, err := armory.BuildArchive(src)
	require.NoError(t, err)
	data, err := armory.Encode(meta, archive)
	require.NoError(t, err)
	return data
}

const scriptUnitManifest = `shuriken:
  name: edge
  id: test.edge
  version: 1.0.0
  type: daemon
  management:
    type: script
    script-path: manage.lua
config:
  config-path: conf/app.conf
  options:
    port: 8080
tools:
  - name: reset
    script: tools/reset.lua
    description: Write the reset marker
`

const manageScript = `
function start()
    fs.write("started.txt", "up")
end

function stop()
    fs.write("stopped.txt", "down")
end
`

func scriptUnitFiles() map[string]string {
	return map[string]string{
		".ninja/manifest.yaml": scriptUnitManifest,
		"manage.lua":           manageScript,
		"tools/reset.lua":      `fs.write("reset.txt", "done")`,
	}
}

func installScriptUnit(t *testing.T, mgr Manager) *Shuriken {
	t.Helper()
	s, err := mgr.Install(buildPackage(t, testMeta("edge"), scriptUnitFiles()))
	require.NoError(t, err)
	return s
}

func TestInstallExtractsUnit(t *testing.T) {
	mgr := newTestManager(t)

	s := installScriptUnit(t, mgr)
	assert.Equal(t, "edge", s.Name)
	assert.Equal(t, supervisor.StateIdle, s.State)
	assert.Equal(t, manifest.ManagementScript, s.Manifest.Shuriken.Management.Type)

	unit := mgr.Root().Unit("edge")
	assert.FileExists(t, filepath.Join(unit.Dir(), "manage.lua"))
	assert.FileExists(t, unit.ManifestPath())

	assert.Equal(t, 1, mgr.Count())
	list := mgr.List()
	require.Len(t, list, 1)
	assert.Equal(t, "edge", list[0].Name)
	assert.Equal(t, supervisor.StateIdle, list[0].State)
}

func TestInstallNormalizesName(t *testing.T) {
	mgr := newTestManager(t)

	files := scriptUnitFiles()
	delete(files, ".ninja/manifest.yaml")
	_, err := mgr.Install(buildPackage(t, testMeta("Apache"), files))
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(mgr.Root().ShurikensDir(), "apache"))

	s, err := mgr.Get("Apache")
	require.NoError(t, err)
	assert.Equal(t, "apache", s.Name)

	list := mgr.List()
	require.Len(t, list, 1)
	assert.Equal(t, "apache", list[0].Name)
}

func TestInstallConflict(t *testing.T) {
	mgr := newTestManager(t)
	installScriptUnit(t, mgr)

	_, err := mgr.Install(buildPackage(t, testMeta("edge"), scriptUnitFiles()))
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeInstallConflict))
	assert.Equal(t, 1, mgr.Count())
}

func TestInstallPlatformMismatch(t *testing.T) {
	mgr := newTestManager(t)

	meta := testMeta("edge")
	meta.Platform = "zos-s390x"
	_, err := mgr.Install(buildPackage(t, meta, scriptUnitFiles()))
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypePlatformMismatch))
	assert.Equal(t, 0, mgr.Count())
}

func TestInstallScaffoldsManifest(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Install(buildPackage(t, testMeta("plain"), map[string]string{
		"data.txt": "payload",
	}))
	require.NoError(t, err)

	s, err := mgr.Get("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", s.Manifest.Shuriken.Name)
	assert.Equal(t, "test.plain", s.Manifest.Shuriken.ID)
	assert.Equal(t, "1.0.0", s.Manifest.Shuriken.Version)
	assert.Nil(t, s.Manifest.Shuriken.Management)
	assert.FileExists(t, mgr.Root().Unit("plain").ManifestPath())
}

func TestInstallSeedsOptions(t *testing.T) {
	mgr := newTestManager(t)
	installScriptUnit(t, mgr)

	assert.FileExists(t, mgr.Root().Unit("edge").OptionsPath())

	v, err := mgr.GetOption("edge", "port")
	require.NoError(t, err)
	assert.Equal(t, options.Number(8080), v)
}

func TestInstallRunsPostinstall(t *testing.T) {
	mgr := newTestManager(t)

	meta := testMeta("edge")
	meta.Postinstall = "setup.lua"
	files := scriptUnitFiles()
	files["setup.lua"] = `fs.write("postinstall.txt", "ran")`

	_, err := mgr.Install(buildPackage(t, meta, files))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(mgr.Root().Unit("edge").Dir(), "postinstall.txt"))
}

func TestInstallPostinstallFailureKeepsUnit(t *testing.T) {
	mgr := newTestManager(t)

	meta := testMeta("edge")
	meta.Postinstall = "setup.lua"
	files := scriptUnitFiles()
	files["setup.lua"] = `error("setup refused")`

	_, err := mgr.Install(buildPackage(t, meta, files))
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeScript))

	// The extracted unit survives the script failure.
	assert.DirExists(t, mgr.Root().Unit("edge").Dir())
	assert.Equal(t, 1, mgr.Count())
}

func TestInstallFileMissing(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.InstallFile(filepath.Join(t.TempDir(), "nope.shuriken"))
	assert.True(t, errors.IsNotFound(err))
}

func TestInstallRejectsTamperedPackage(t *testing.T) {
	mgr := newTestManager(t)

	data := buildPackage(t, testMeta("edge"), scriptUnitFiles())
	data[len(data)-33] ^= 0xFF

	_, err := mgr.Install(data)
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeIntegrity))
	assert.Equal(t, 0, mgr.Count())
}

func TestRemove(t *testing.T) {
	mgr := newTestManager(t)
	installScriptUnit(t, mgr)

	require.NoError(t, mgr.Remove("edge"))
	assert.NoDirExists(t, mgr.Root().Unit("edge").Dir())
	assert.Equal(t, 0, mgr.Count())

	err := mgr.Remove("edge")
	assert.True(t, errors.IsNotFound(err))
}

func TestRemoveStillRunning(t *testing.T) {
	mgr := newTestManager(t)
	installScriptUnit(t, mgr)

	unit := mgr.Root().Unit("edge")
	require.NoError(t, lockfile.Write(unit.LockPath(), &lockfile.Lock{Name: "edge", Kind: lockfile.KindScript}))

	err := mgr.Remove("edge")
	assert.True(t, errors.IsStillRunning(err))
	assert.DirExists(t, unit.Dir())

	require.NoError(t, mgr.Lockpick("edge"))
	require.NoError(t, mgr.Remove("edge"))
}

func TestStartStopScriptUnit(t *testing.T) {
	mgr := newTestManager(t)
	installScriptUnit(t, mgr)
	unit := mgr.Root().Unit("edge")

	require.NoError(t, mgr.Start("edge"))
	state, err := mgr.Status("edge")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateRunning, state)
	assert.FileExists(t, filepath.Join(unit.Dir(), "started.txt"))

	require.NoError(t, mgr.Stop("edge"))
	state, err = mgr.Status("edge")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateIdle, state)
	assert.FileExists(t, filepath.Join(unit.Dir(), "stopped.txt"))
	assert.NoFileExists(t, unit.LockPath())
}

func TestLifecycleOfUnknownShuriken(t *testing.T) {
	mgr := newTestManager(t)

	assert.True(t, errors.IsNotFound(mgr.Start("ghost")))
	assert.True(t, errors.IsNotFound(mgr.Stop("ghost")))
	_, err := mgr.Status("ghost")
	assert.True(t, errors.IsNotFound(err))
	_, err = mgr.Get("ghost")
	assert.True(t, errors.IsNotFound(err))
}

func TestConcurrentStartExclusivity(t *testing.T) {
	mgr := newTestManager(t)
	installScriptUnit(t, mgr)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = mgr.Start("edge")
		}(i)
	}
	wg.Wait()

	var started, refused int
	for _, err := range results {
		switch {
		case err == nil:
			started++
		case errors.IsAlreadyRunning(err):
			refused++
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, refused)
	assert.FileExists(t, mgr.Root().Unit("edge").LockPath())
}

func TestConfigureRendersTemplate(t *testing.T) {
	mgr := newTestManager(t)

	files := scriptUnitFiles()
	files[".ninja/config.tmpl"] = "host={{ host }}\nport={{ port }}\n"
	_, err := mgr.Install(buildPackage(t, testMeta("edge"), files))
	require.NoError(t, err)

	require.NoError(t, mgr.SetOption("edge", "host", options.String("localhost")))
	require.NoError(t, mgr.Configure("edge"))

	rendered, err := os.ReadFile(filepath.Join(mgr.Root().Unit("edge").Dir(), "conf", "app.conf"))
	require.NoError(t, err)
	assert.Equal(t, "host=localhost\nport=8080\n", string(rendered))
}

func TestConfigureFailsClosedOnUnsetKey(t *testing.T) {
	mgr := newTestManager(t)

	files := scriptUnitFiles()
	files[".ninja/config.tmpl"] = "token={{ token }}\n"
	_, err := mgr.Install(buildPackage(t, testMeta("edge"), files))
	require.NoError(t, err)

	err = mgr.Configure("edge")
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeUndefinedVariable))
	assert.NoFileExists(t, filepath.Join(mgr.Root().Unit("edge").Dir(), "conf", "app.conf"))
}

func TestConfigureWithoutConfigBlock(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Install(buildPackage(t, testMeta("plain"), map[string]string{"data.txt": "x"}))
	require.NoError(t, err)

	err = mgr.Configure("plain")
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeValidation))
}

func TestOptionRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	installScriptUnit(t, mgr)

	require.NoError(t, mgr.SetOption("edge", "host", options.String("localhost")))
	v, err := mgr.GetOption("edge", "host")
	require.NoError(t, err)
	assert.Equal(t, options.String("localhost"), v)

	_, err = mgr.GetOption("edge", "missing")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, mgr.SetOption("edge", "verbose", options.Bool(false)))
	flipped, err := mgr.ToggleOption("edge", "verbose")
	require.NoError(t, err)
	assert.True(t, flipped)

	v, err = mgr.GetOption("edge", "verbose")
	require.NoError(t, err)
	assert.Equal(t, options.Bool(true), v)
}

func TestSetOptionsBatch(t *testing.T) {
	mgr := newTestManager(t)
	installScriptUnit(t, mgr)

	require.NoError(t, mgr.SetOptions("edge", map[string]options.Value{
		"host":    options.String("0.0.0.0"),
		"workers": options.Number(4),
	}))

	v, err := mgr.GetOption("edge", "workers")
	require.NoError(t, err)
	assert.Equal(t, options.Number(4), v)
}

func TestRefresh(t *testing.T) {
	mgr := newTestManager(t)
	installScriptUnit(t, mgr)

	// A unit created out of band appears after a refresh.
	unit := mgr.Root().Unit("manual")
	require.NoError(t, os.MkdirAll(unit.MetaDir(), 0o755))
	require.NoError(t, manifest.Scaffold("manual", "test.manual", "0.1.0").Save(unit.ManifestPath()))

	require.NoError(t, mgr.Refresh())
	assert.Equal(t, 2, mgr.Count())

	// A vanished directory drops out.
	require.NoError(t, os.RemoveAll(mgr.Root().Unit("edge").Dir()))
	require.NoError(t, mgr.Refresh())
	assert.Equal(t, 1, mgr.Count())
	_, err := mgr.Get("edge")
	assert.True(t, errors.IsNotFound(err))
}

func TestForgeAndReinstallRoundTrip(t *testing.T) {
	mgr := newTestManager(t)

	project := filepath.Join(mgr.Root().ProjectsDir(), "proxy")
	require.NoError(t, os.MkdirAll(filepath.Join(project, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "bin", "run.sh"), []byte("#!/bin/sh\n"), 0o755))

	meta := testMeta("proxy")
	out, err := mgr.Forge(meta, "proxy")
	require.NoError(t, err)
	assert.Equal(t, mgr.Root().PackagePath("test.proxy", "any"), out)
	assert.FileExists(t, out)

	s, err := mgr.InstallFile(out)
	require.NoError(t, err)
	assert.Equal(t, "proxy", s.Name)
	assert.FileExists(t, filepath.Join(mgr.Root().Unit("proxy").Dir(), "bin", "run.sh"))
}

func TestForgeMissingSource(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Forge(testMeta("ghost"), "ghost")
	assert.True(t, errors.IsNotFound(err))
}

func TestLockpick(t *testing.T) {
	mgr := newTestManager(t)
	installScriptUnit(t, mgr)
	unit := mgr.Root().Unit("edge")

	require.NoError(t, os.WriteFile(unit.LockPath(), []byte("{corrupted"), 0o644))

	require.NoError(t, mgr.Lockpick("edge"))
	assert.NoFileExists(t, unit.LockPath())

	state, err := mgr.Status("edge")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateIdle, state)

	assert.True(t, errors.IsNotFound(mgr.Lockpick("ghost")))
}

func TestRunTool(t *testing.T) {
	mgr := newTestManager(t)
	installScriptUnit(t, mgr)

	require.NoError(t, mgr.RunTool("edge", "reset"))
	assert.FileExists(t, filepath.Join(mgr.Root().Unit("edge").Dir(), "reset.txt"))

	err := mgr.RunTool("edge", "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestProjects(t *testing.T) {
	mgr := newTestManager(t)

	require.NoError(t, os.MkdirAll(filepath.Join(mgr.Root().ProjectsDir(), "beta"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(mgr.Root().ProjectsDir(), "alpha"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mgr.Root().ProjectsDir(), "stray.txt"), []byte("x"), 0o644))

	projects, err := mgr.Projects()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, projects)
}

func TestNewManagerSkipsBrokenUnit(t *testing.T) {
	root := t.TempDir()
	broken := filepath.Join(root, "shurikens", "broken", ".ninja")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "manifest.yaml"), []byte("shuriken: [not a mapping"), 0o644))

	mgr, err := NewManager(ManagerOptions{Root: root}, logging.NewLogger("manager-test: ", logging.LogFuncs{}))
	require.NoError(t, err)
	assert.Equal(t, 0, mgr.Count())

	// The broken directory still blocks a new install under that name.
	_, err = mgr.Install(buildPackage(t, testMeta("broken"), map[string]string{"f.txt": "x"}))
	assert.True(t, errors.HasType(err, errors.ErrorTypeInstallConflict))
}
