package scripting

import (
	"bytes"
	"os"
	"os/exec"

	lua "github.com/yuin/gopher-lua"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/core-tools/hsu-shuriken-go/pkg/hostcmd"
)

// ================= shell module =================

func (e *Engine) installShell(L *lua.LState) {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"exec":     e.shellExec,
		"kill_pid": e.killPID,
	})
	L.SetGlobal("shell", mod)
}

// shellExec runs a command line through the host shell. With detached it
// returns {pid} immediately; with admin it routes through the host
// elevation mechanism. Otherwise it waits and returns {code, stdout,
// stderr}; a spawn failure is reported in that table rather than raised,
// so scripts can branch on it.
func (e *Engine) shellExec(L *lua.LState) int {
	command := L.CheckString(1)
	detached := L.OptBool(2, false)
	admin := L.OptBool(3, false)

	var cmd *exec.Cmd
	if admin {
		cmd = hostcmd.AdminShell(command)
	} else {
		cmd = hostcmd.Shell(command)
	}
	if e.workDir != "" {
		cmd.Dir = e.workDir
	}

	if detached {
		hostcmd.Detach(cmd)
		if err := cmd.Start(); err != nil {
			L.RaiseError("shell.exec: %s", err)
			return 0
		}
		pid := cmd.Process.Pid
		_ = cmd.Process.Release()

		result := L.NewTable()
		result.RawSetString("pid", lua.LNumber(pid))
		L.Push(result)
		return 1
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdin = os.Stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	result := L.NewTable()
	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.RawSetString("code", lua.LNumber(exitErr.ExitCode()))
			result.RawSetString("stdout", lua.LString(stdout.String()))
			result.RawSetString("stderr", lua.LString(stderr.String()))
		} else {
			result.RawSetString("code", lua.LNumber(-1))
			result.RawSetString("stdout", lua.LString(""))
			result.RawSetString("stderr", lua.LString("Command execution failed: "+err.Error()))
		}
		L.Push(result)
		return 1
	}

	result.RawSetString("code", lua.LNumber(0))
	result.RawSetString("stdout", lua.LString(stdout.String()))
	result.RawSetString("stderr", lua.LString(stderr.String()))
	L.Push(result)
	return 1
}

// ================= proc module =================

func (e *Engine) installProc(L *lua.LState) {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"spawn":     e.procSpawn,
		"kill_pid":  e.killPID,
		"kill_name": e.procKillName,
	})
	L.SetGlobal("proc", mod)
}

// procSpawn starts a binary directly (no shell) in its own session with
// detached stdio and returns {pid}. The script owns the process from
// there; the supervisor's lock tracking does not apply to it.
func (e *Engine) procSpawn(L *lua.LState) int {
	bin := L.CheckString(1)
	var args []string
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, L.CheckString(i))
	}

	cmd := exec.Command(bin, args...)
	if e.workDir != "" {
		cmd.Dir = e.workDir
	}
	hostcmd.Detach(cmd)

	if err := cmd.Start(); err != nil {
		L.RaiseError("proc.spawn: %s", err)
		return 0
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()

	result := L.NewTable()
	result.RawSetString("pid", lua.LNumber(pid))
	L.Push(result)
	return 1
}

func (e *Engine) killPID(L *lua.LState) int {
	pid := int32(L.CheckInt(1))

	proc, err := process.NewProcess(pid)
	if err != nil {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(proc.Kill() == nil))
	return 1
}

// procKillName kills every process whose executable name matches and
// returns how many were killed.
func (e *Engine) procKillName(L *lua.LState) int {
	target := L.CheckString(1)

	procs, err := process.Processes()
	if err != nil {
		L.RaiseError("proc.kill_name: %s", err)
		return 0
	}

	killed := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name != target {
			continue
		}
		if p.Kill() == nil {
			killed++
		}
	}
	L.Push(lua.LNumber(killed))
	return 1
}
