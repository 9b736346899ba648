package manifest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-shuriken-go/pkg/options"
)

const nativeManifestYAML = `shuriken:
  name: edge-proxy
  id: edge_proxy
  version: 1.2.0
  type: daemon
  require-admin: true
  management:
    type: native
    bin-path:
      windows: bin\edge.exe
      unix: bin/edge
    args: ["--listen", "0.0.0.0"]
    cwd: .
config:
  config-path: conf/app.conf
  options:
    port: 8080
    verbose: false
logs:
  log-path: logs/edge.log
tools:
  - name: reset
    script: scripts/reset.lua
    description: Drop cached state
`

const scriptManifestYAML = `shuriken:
  name: backup-job
  id: backup_job
  version: 0.3.1
  type: executable
  require-admin: false
  management:
    type: script
    script-path: scripts/manage.lua
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadNativeManifest(t *testing.T) {
	m, err := Load(writeManifest(t, nativeManifestYAML))
	require.NoError(t, err)

	assert.Equal(t, "edge-proxy", m.Shuriken.Name)
	assert.Equal(t, "edge_proxy", m.Shuriken.ID)
	assert.Equal(t, "1.2.0", m.Shuriken.Version)
	assert.Equal(t, TypeDaemon, m.Shuriken.Type)
	assert.True(t, m.Shuriken.RequireAdmin)

	mgmt := m.Shuriken.Management
	require.NotNil(t, mgmt)
	assert.Equal(t, ManagementNative, mgmt.Type)
	assert.Equal(t, []string{"--listen", "0.0.0.0"}, mgmt.Args)
	assert.Equal(t, ".", mgmt.Cwd.Path())

	expectedBin := "bin/edge"
	if runtime.GOOS == "windows" {
		expectedBin = `bin\edge.exe`
	}
	assert.Equal(t, expectedBin, mgmt.BinPath.Path())

	require.NotNil(t, m.Config)
	assert.Equal(t, "conf/app.conf", m.Config.ConfigPath)
	assert.Equal(t, options.Number(8080), m.Config.Options["port"])
	assert.Equal(t, options.Bool(false), m.Config.Options["verbose"])

	require.NotNil(t, m.Logs)
	assert.Equal(t, "logs/edge.log", m.Logs.LogPath)

	tool, ok := m.FindTool("reset")
	require.True(t, ok)
	assert.Equal(t, "scripts/reset.lua", tool.Script)

	_, ok = m.FindTool("missing")
	assert.False(t, ok)
}

func TestLoadScriptManifest(t *testing.T) {
	m, err := Load(writeManifest(t, scriptManifestYAML))
	require.NoError(t, err)

	mgmt := m.Shuriken.Management
	require.NotNil(t, mgmt)
	assert.Equal(t, ManagementScript, mgmt.Type)
	assert.Equal(t, "scripts/manage.lua", mgmt.ScriptPath)
	assert.Nil(t, m.Config)
	assert.Nil(t, m.Logs)
}

func TestLoadSimpleBinPath(t *testing.T) {
	doc := `shuriken:
  name: simple
  id: simple
  version: 1.0.0
  type: executable
  require-admin: false
  management:
    type: native
    bin-path: bin/simple
`
	m, err := Load(writeManifest(t, doc))
	require.NoError(t, err)
	assert.Equal(t, "bin/simple", m.Shuriken.Management.BinPath.Path())
}

func TestValidateRejects(t *testing.T) {
	valid := func() *Manifest {
		return &Manifest{
			Shuriken: Identity{
				Name:    "unit",
				ID:      "unit",
				Version: "1.0.0",
				Type:    TypeDaemon,
				Management: &Management{
					Type:    ManagementNative,
					BinPath: SimplePath("bin/unit"),
				},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Manifest)
	}{
		{name: "missing name", mutate: func(m *Manifest) { m.Shuriken.Name = "" }},
		{name: "missing id", mutate: func(m *Manifest) { m.Shuriken.ID = "" }},
		{name: "missing version", mutate: func(m *Manifest) { m.Shuriken.Version = "" }},
		{name: "bad shuriken type", mutate: func(m *Manifest) { m.Shuriken.Type = "service" }},
		{name: "bad management type", mutate: func(m *Manifest) { m.Shuriken.Management.Type = "systemd" }},
		{name: "native without bin-path", mutate: func(m *Manifest) { m.Shuriken.Management.BinPath = PlatformPath{} }},
		{name: "native with script-path", mutate: func(m *Manifest) { m.Shuriken.Management.ScriptPath = "x.lua" }},
		{name: "script with bin-path", mutate: func(m *Manifest) {
			m.Shuriken.Management = &Management{
				Type:       ManagementScript,
				ScriptPath: "scripts/manage.lua",
				BinPath:    SimplePath("bin/unit"),
			}
		}},
		{name: "config without path", mutate: func(m *Manifest) { m.Config = &Config{} }},
		{name: "tool without script", mutate: func(m *Manifest) { m.Tools = []Tool{{Name: "broken"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			assert.Error(t, m.Validate())
		})
	}

	assert.NoError(t, valid().Validate())
}

func TestValidateAllowsNoManagement(t *testing.T) {
	m := Scaffold("content-pack", "content_pack", "1.0.0")
	assert.NoError(t, m.Validate())
	assert.Nil(t, m.Shuriken.Management)
	assert.Equal(t, TypeExecutable, m.Shuriken.Type)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	m := &Manifest{
		Shuriken: Identity{
			Name:    "edge-proxy",
			ID:      "edge_proxy",
			Version: "1.2.0",
			Type:    TypeDaemon,
			Management: &Management{
				Type:    ManagementNative,
				BinPath: SimplePath("bin/edge"),
				Args:    []string{"--listen", "0.0.0.0"},
			},
		},
		Config: &Config{
			ConfigPath: "conf/app.conf",
			Options:    map[string]options.Value{"port": options.Number(8080)},
		},
	}
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeManifest(t, "shuriken: [oops\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
