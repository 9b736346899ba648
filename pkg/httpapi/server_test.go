package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-shuriken-go/pkg/armory"
	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/logging"
	"github.com/core-tools/hsu-shuriken-go/pkg/manager"
)

func testLogger() logging.Logger {
	return logging.NewLogger("httpapi-test: ", logging.LogFuncs{})
}

func newTestManager(t *testing.T) manager.Manager {
	t.Helper()
	mgr, err := manager.NewManager(manager.ManagerOptions{Root: t.TempDir()}, testLogger())
	require.NoError(t, err)
	return mgr
}

func newTestServer(t *testing.T, mgr manager.Manager) *Server {
	t.Helper()
	srv, err := NewServer(mgr, 0, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.listener.Close() })
	return srv
}

const unitManifest = `shuriken:
  name: edge
  id: test.edge
  version: 1.0.0
  type: daemon
  management:
    type: script
    script-path: manage.lua
`

const unitScript = `
function start()
    fs.write("started.txt", "up")
end

function stop()
    fs.write("stopped.txt", "down")
end
`

// installUnit packages a script-managed unit in memory and installs it.
func installUnit(t *testing.T, mgr manager.Manager, name string) {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".ninja"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".ninja", "manifest.yaml"), []byte(unitManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "manage.lua"), []byte(unitScript), 0o644))

	archive, err := armory.BuildArchive(src)
	require.NoError(t, err)
	data, err := armory.Encode(&armory.Metadata{
		Name:     name,
		ID:       "test." + name,
		Platform: "any",
		Version:  "1.0.0",
	}, archive)
	require.NoError(t, err)

	_, err = mgr.Install(data)
	require.NoError(t, err)
}

func getJSON(t *testing.T, srv *Server, path string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(nil, 8080, testLogger())
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeValidation))

	_, err = NewServer(newTestManager(t), -1, testLogger())
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeValidation))
}

func TestListRoute(t *testing.T) {
	mgr := newTestManager(t)
	installUnit(t, mgr, "edge")
	installUnit(t, mgr, "proxy")
	srv := newTestServer(t, mgr)

	code, env := getJSON(t, srv, "/api/shurikens/list")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Empty(t, env.Error)

	names, ok := env.Data.([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"edge", "proxy"}, names)
}

func TestListStatesRoute(t *testing.T) {
	mgr := newTestManager(t)
	installUnit(t, mgr, "edge")
	srv := newTestServer(t, mgr)

	code, env := getJSON(t, srv, "/api/shurikens/list/states")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	states, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "idle", states["edge"])
}

func TestStartAndStopRoutes(t *testing.T) {
	mgr := newTestManager(t)
	installUnit(t, mgr, "edge")
	srv := newTestServer(t, mgr)
	unit := mgr.Root().Unit("edge")

	code, env := getJSON(t, srv, "/api/shurikens/start/edge")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.FileExists(t, filepath.Join(unit.Dir(), "started.txt"))
	assert.FileExists(t, unit.LockPath())

	code, env = getJSON(t, srv, "/api/shurikens/list/states")
	assert.Equal(t, http.StatusOK, code)
	states := env.Data.(map[string]interface{})
	assert.Equal(t, "running", states["edge"])

	code, env = getJSON(t, srv, "/api/shurikens/stop/edge")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.FileExists(t, filepath.Join(unit.Dir(), "stopped.txt"))
	assert.NoFileExists(t, unit.LockPath())
}

func TestStartUnknownShuriken(t *testing.T) {
	srv := newTestServer(t, newTestManager(t))

	code, env := getJSON(t, srv, "/api/shurikens/start/ghost")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "no such shuriken")
}

func TestStartWithoutName(t *testing.T) {
	srv := newTestServer(t, newTestManager(t))

	code, env := getJSON(t, srv, "/api/shurikens/start/")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
}

func TestStopIdleShurikenConflicts(t *testing.T) {
	mgr := newTestManager(t)
	installUnit(t, mgr, "edge")
	srv := newTestServer(t, mgr)

	code, env := getJSON(t, srv, "/api/shurikens/stop/edge")
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, newTestManager(t))

	req := httptest.NewRequest(http.MethodPost, "/api/shurikens/list", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestShutdownRoute(t *testing.T) {
	srv := newTestServer(t, newTestManager(t))
	require.NoError(t, srv.Start(context.Background()))

	url := fmt.Sprintf("http://%s/api/stop", srv.Address())
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.True(t, env.Success)

	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown was not signalled")
	}

	require.Eventually(t, func() bool {
		_, err := http.Get(url)
		return err != nil
	}, 2*time.Second, 50*time.Millisecond, "listener still accepting after shutdown")
}

func TestStopShutsListenerDown(t *testing.T) {
	srv := newTestServer(t, newTestManager(t))
	require.NoError(t, srv.Start(context.Background()))

	url := fmt.Sprintf("http://%s/api/shurikens/list", srv.Address())
	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	_, err = http.Get(url)
	assert.Error(t, err)

	select {
	case <-srv.Done():
	default:
		t.Fatal("done channel not closed after Stop")
	}
}
