package scripting

import (
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func (e *Engine) installModules(L *lua.LState) {
	e.installFS(L)
	e.installEnv(L)
	e.installShell(L)
	e.installProc(L)
	e.installTime(L)
	e.installJSON(L)
	e.installLog(L)
}

// ================= fs module =================

func (e *Engine) installFS(L *lua.LState) {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"read":       e.fsRead,
		"write":      e.fsWrite,
		"append":     e.fsAppend,
		"remove":     e.fsRemove,
		"create_dir": e.fsCreateDir,
		"read_dir":   e.fsReadDir,
		"exists":     e.fsExists,
		"is_dir":     e.fsIsDir,
		"is_file":    e.fsIsFile,
	})
	L.SetGlobal("fs", mod)
}

func (e *Engine) fsRead(L *lua.LState) int {
	path := e.resolvePath(L.CheckString(1))
	data, err := os.ReadFile(path)
	if err != nil {
		L.RaiseError("fs.read: %s", err)
		return 0
	}
	L.Push(lua.LString(data))
	return 1
}

func (e *Engine) fsWrite(L *lua.LState) int {
	path := e.resolvePath(L.CheckString(1))
	content := L.CheckString(2)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		L.RaiseError("fs.write: %s", err)
	}
	return 0
}

func (e *Engine) fsAppend(L *lua.LState) int {
	path := e.resolvePath(L.CheckString(1))
	content := L.CheckString(2)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		L.RaiseError("fs.append: %s", err)
		return 0
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		L.RaiseError("fs.append: %s", err)
	}
	return 0
}

func (e *Engine) fsRemove(L *lua.LState) int {
	path := e.resolvePath(L.CheckString(1))
	if err := os.Remove(path); err != nil {
		L.RaiseError("fs.remove: %s", err)
	}
	return 0
}

func (e *Engine) fsCreateDir(L *lua.LState) int {
	path := e.resolvePath(L.CheckString(1))
	if err := os.Mkdir(path, 0o755); err != nil {
		L.RaiseError("fs.create_dir: %s", err)
	}
	return 0
}

func (e *Engine) fsReadDir(L *lua.LState) int {
	path := e.resolvePath(L.CheckString(1))
	entries, err := os.ReadDir(path)
	if err != nil {
		L.RaiseError("fs.read_dir: %s", err)
		return 0
	}

	names := L.NewTable()
	for _, entry := range entries {
		names.Append(lua.LString(entry.Name()))
	}
	L.Push(names)
	return 1
}

func (e *Engine) fsExists(L *lua.LState) int {
	path := e.resolvePath(L.CheckString(1))
	_, err := os.Stat(path)
	if err != nil && !os.IsNotExist(err) {
		L.RaiseError("fs.exists: %s", err)
		return 0
	}
	L.Push(lua.LBool(err == nil))
	return 1
}

func (e *Engine) fsIsDir(L *lua.LState) int {
	info, err := os.Stat(e.resolvePath(L.CheckString(1)))
	L.Push(lua.LBool(err == nil && info.IsDir()))
	return 1
}

func (e *Engine) fsIsFile(L *lua.LState) int {
	info, err := os.Stat(e.resolvePath(L.CheckString(1)))
	L.Push(lua.LBool(err == nil && info.Mode().IsRegular()))
	return 1
}

// ================= env module =================

func (e *Engine) installEnv(L *lua.LState) {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get":    e.envGet,
		"set":    e.envSet,
		"remove": e.envRemove,
		"vars":   e.envVars,
		"cwd":    e.envCwd,
	})
	mod.RawSetString("os", lua.LString(runtime.GOOS))
	mod.RawSetString("arch", lua.LString(runtime.GOARCH))
	L.SetGlobal("env", mod)
}

func (e *Engine) envGet(L *lua.LState) int {
	value, ok := os.LookupEnv(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(value))
	return 1
}

// envSet mutates the host process environment, not a per-script copy.
func (e *Engine) envSet(L *lua.LState) int {
	if err := os.Setenv(L.CheckString(1), L.CheckString(2)); err != nil {
		L.RaiseError("env.set: %s", err)
	}
	return 0
}

func (e *Engine) envRemove(L *lua.LState) int {
	if err := os.Unsetenv(L.CheckString(1)); err != nil {
		L.RaiseError("env.remove: %s", err)
	}
	return 0
}

func (e *Engine) envVars(L *lua.LState) int {
	vars := L.NewTable()
	for _, entry := range os.Environ() {
		key, value, _ := strings.Cut(entry, "=")
		vars.RawSetString(key, lua.LString(value))
	}
	L.Push(vars)
	return 1
}

func (e *Engine) envCwd(L *lua.LState) int {
	if e.workDir != "" {
		L.Push(lua.LString(e.workDir))
		return 1
	}
	cwd, err := os.Getwd()
	if err != nil {
		L.RaiseError("env.cwd: %s", err)
		return 0
	}
	L.Push(lua.LString(cwd))
	return 1
}

// ================= time module =================

func (e *Engine) installTime(L *lua.LState) {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"year":   timeYear,
		"month":  timeMonth,
		"day":    timeDay,
		"hour":   timeHour,
		"minute": timeMinute,
		"second": timeSecond,
		"now":    timeNow,
		"sleep":  timeSleep,
	})
	L.SetGlobal("time", mod)
}

func timeYear(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().UTC().Year()))
	return 1
}

func timeMonth(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().UTC().Month()))
	return 1
}

func timeDay(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().UTC().Day()))
	return 1
}

// timeHour returns (hour 1-12, "AM"|"PM") when passed true, otherwise
// (hour 0-23, "").
func timeHour(L *lua.LState) int {
	twelve := L.OptBool(1, false)
	hour := time.Now().UTC().Hour()

	if !twelve {
		L.Push(lua.LNumber(hour))
		L.Push(lua.LString(""))
		return 2
	}

	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	h12 := hour % 12
	if h12 == 0 {
		h12 = 12
	}
	L.Push(lua.LNumber(h12))
	L.Push(lua.LString(suffix))
	return 2
}

func timeMinute(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().UTC().Minute()))
	return 1
}

func timeSecond(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().UTC().Second()))
	return 1
}

func timeNow(L *lua.LState) int {
	layout := strftimeToLayout(L.CheckString(1))
	L.Push(lua.LString(time.Now().UTC().Format(layout)))
	return 1
}

// timeSleep blocks the calling invocation; there is no cancellation.
func timeSleep(L *lua.LState) int {
	seconds := float64(L.CheckNumber(1))
	time.Sleep(time.Duration(seconds * float64(time.Second)))
	return 0
}

// ================= json module =================

func (e *Engine) installJSON(L *lua.LState) {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"encode": jsonEncode,
		"decode": jsonDecode,
	})
	L.SetGlobal("json", mod)
}

func jsonEncode(L *lua.LState) int {
	data, err := json.Marshal(luaToGo(L.CheckTable(1)))
	if err != nil {
		L.RaiseError("json.encode: %s", err)
		return 0
	}
	L.Push(lua.LString(data))
	return 1
}

func jsonDecode(L *lua.LState) int {
	var decoded interface{}
	if err := json.Unmarshal([]byte(L.CheckString(1)), &decoded); err != nil {
		L.RaiseError("json.decode: invalid JSON: %s", err)
		return 0
	}

	value := goToLua(L, decoded)
	if _, ok := value.(*lua.LTable); !ok {
		L.RaiseError("json.decode: expected an object or array")
		return 0
	}
	L.Push(value)
	return 1
}

// ================= log module =================

func (e *Engine) installLog(L *lua.LState) {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"info":  e.logInfo,
		"warn":  e.logWarn,
		"error": e.logError,
		"debug": e.logDebug,
	})
	L.SetGlobal("log", mod)
}

func (e *Engine) logInfo(L *lua.LState) int {
	e.logger.Infof("%s", L.CheckString(1))
	return 0
}

func (e *Engine) logWarn(L *lua.LState) int {
	e.logger.Warnf("%s", L.CheckString(1))
	return 0
}

func (e *Engine) logError(L *lua.LState) int {
	e.logger.Errorf("%s", L.CheckString(1))
	return 0
}

func (e *Engine) logDebug(L *lua.LState) int {
	e.logger.Debugf("%s", L.CheckString(1))
	return 0
}
