// Package hostcmd builds commands for the host's shell, elevation and
// detached-spawn mechanisms so no caller branches on platform itself.
package hostcmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Shell returns a command that runs the given line through the host's
// command interpreter: cmd /C on Windows, $SHELL -c (or sh -c) elsewhere.
func Shell(command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("cmd", "/C", command)
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "sh"
	}
	return exec.Command(shell, "-c", command)
}

// Admin wraps bin and args in the host's elevation mechanism: pkexec on
// Linux, an osascript administrator prompt on macOS, a UAC Start-Process
// on Windows.
func Admin(bin string, args []string) *exec.Cmd {
	switch runtime.GOOS {
	case "windows":
		script := fmt.Sprintf("(Start-Process '%s' -Verb RunAs -PassThru", bin)
		if len(args) > 0 {
			script += fmt.Sprintf(" -ArgumentList @('%s')", strings.Join(args, "','"))
		}
		script += ").Id"
		return exec.Command("powershell", "-NoProfile", "-WindowStyle", "Hidden", "-Command", script)

	case "darwin":
		line := strings.Join(append([]string{bin}, args...), " ")
		return exec.Command("osascript", "-e",
			fmt.Sprintf("do shell script %q with administrator privileges", line))

	default:
		return exec.Command("pkexec", append([]string{bin}, args...)...)
	}
}

// AdminShell elevates a whole shell command line.
func AdminShell(command string) *exec.Cmd {
	switch runtime.GOOS {
	case "windows":
		script := fmt.Sprintf("(Start-Process 'cmd' -ArgumentList @('/C','%s') -Verb RunAs -PassThru).Id", command)
		return exec.Command("powershell", "-NoProfile", "-WindowStyle", "Hidden", "-Command", script)

	case "darwin":
		return exec.Command("osascript", "-e",
			fmt.Sprintf("do shell script %q with administrator privileges", command))

	default:
		return exec.Command("pkexec", "sh", "-c", command)
	}
}

// Detach configures cmd to run in its own session with no attached
// stdio, so it survives the host process. The caller still owns Start.
func Detach(cmd *exec.Cmd) {
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = detachSysProcAttr()
}
