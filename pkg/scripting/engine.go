// Package scripting embeds a Lua interpreter for management scripts,
// post-install hooks and tool scripts. Each invocation runs on a fresh
// interpreter state; nothing survives between invocations except the
// filesystem side effects a script performs itself.
//
// Guest scripts see seven capability modules as globals: fs, env, shell,
// proc, time, json and log. The surface is fixed; scripts may rely on
// every listed operation and nothing else.
package scripting

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/logging"
)

// Engine executes guest scripts. A non-empty workDir anchors relative
// script and file paths and becomes the working directory of spawned
// commands; the zero value defers to the host process's own.
type Engine struct {
	workDir string
	logger  logging.Logger
}

func NewEngine(workDir string, logger logging.Logger) *Engine {
	return &Engine{workDir: workDir, logger: logger}
}

// Execute runs inline Lua source to completion.
func (e *Engine) Execute(source string) error {
	L := e.newState()
	defer L.Close()

	e.logger.Debugf("Executing inline script")
	return e.run(L, []byte(source), "<inline>")
}

// ExecuteFile runs a script file to completion.
func (e *Engine) ExecuteFile(path string) error {
	full := e.resolvePath(path)
	source, err := e.readScript(full)
	if err != nil {
		return err
	}

	L := e.newState()
	defer L.Close()

	e.logger.Infof("Executing script file: %s", full)
	return e.run(L, source, full)
}

// ExecuteFunction evaluates the script in an isolated environment that
// inherits the module globals, then calls the named function with no
// arguments. The function is taken from the script's returned table if it
// returns one, otherwise from the isolated environment.
func (e *Engine) ExecuteFunction(function, path string) error {
	full := e.resolvePath(path)
	source, err := e.readScript(full)
	if err != nil {
		return err
	}

	L := e.newState()
	defer L.Close()

	e.logger.Infof("Executing %s() from script file: %s", function, full)

	fn, err := L.Load(bytes.NewReader(source), full)
	if err != nil {
		return errors.NewScriptError("failed to load script", err).WithContext("script", full)
	}

	env := L.NewTable()
	meta := L.NewTable()
	meta.RawSetString("__index", L.Get(lua.GlobalsIndex))
	L.SetMetatable(env, meta)
	fn.Env = env

	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return errors.NewScriptError("script execution failed", err).WithContext("script", full)
	}
	returned := L.Get(-1)
	L.Pop(1)

	var target lua.LValue
	if tbl, ok := returned.(*lua.LTable); ok {
		target = tbl.RawGetString(function)
	} else {
		target = env.RawGetString(function)
	}

	callable, ok := target.(*lua.LFunction)
	if !ok {
		return errors.NewScriptError(
			fmt.Sprintf("script does not define function %q", function),
			nil,
		).WithContext("script", full)
	}

	L.Push(callable)
	if err := L.PCall(0, 0, nil); err != nil {
		return errors.NewScriptError("script function failed", err).
			WithContext("script", full).
			WithContext("function", function)
	}
	return nil
}

func (e *Engine) run(L *lua.LState, source []byte, name string) error {
	fn, err := L.Load(bytes.NewReader(source), name)
	if err != nil {
		return errors.NewScriptError("failed to load script", err).WithContext("script", name)
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return errors.NewScriptError("script execution failed", err).WithContext("script", name)
	}
	return nil
}

func (e *Engine) newState() *lua.LState {
	L := lua.NewState()
	e.installModules(L)
	return L
}

func (e *Engine) readScript(path string) ([]byte, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("script file not found", err).WithContext("path", path)
		}
		return nil, errors.NewIOError("failed to read script file", err).WithContext("path", path)
	}
	return source, nil
}

func (e *Engine) resolvePath(path string) string {
	if e.workDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workDir, path)
}
