// Package supervisor drives the running lifecycle of installed units.
// Observable state is exactly Idle or Running, derived from lock file
// presence; the starting and stopping phases are transient and never
// persisted.
package supervisor

import (
	"os"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/hostcmd"
	"github.com/core-tools/hsu-shuriken-go/pkg/layout"
	"github.com/core-tools/hsu-shuriken-go/pkg/lockfile"
	"github.com/core-tools/hsu-shuriken-go/pkg/logging"
	"github.com/core-tools/hsu-shuriken-go/pkg/manifest"
	"github.com/core-tools/hsu-shuriken-go/pkg/scripting"
)

// State of a unit as observed through its lock file.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// DefaultGracefulTimeout bounds how long Stop waits for a terminated
// process to exit before escalating to a forced kill.
const DefaultGracefulTimeout = 10 * time.Second

const pollInterval = 100 * time.Millisecond

// Supervisor starts and stops units. It keeps no state of its own; the
// lock file is the single source of truth, so supervisors in different
// host processes cannot disagree about what is running.
type Supervisor struct {
	gracefulTimeout time.Duration
	logger          logging.Logger
}

func New(gracefulTimeout time.Duration, logger logging.Logger) *Supervisor {
	if gracefulTimeout <= 0 {
		gracefulTimeout = DefaultGracefulTimeout
	}
	return &Supervisor{
		gracefulTimeout: gracefulTimeout,
		logger:          logger,
	}
}

// Status reports the unit's observable state. It never spawns, signals
// or mutates anything.
func (s *Supervisor) Status(unit layout.Unit) State {
	if lockfile.Exists(unit.LockPath()) {
		return StateRunning
	}
	return StateIdle
}

// Start brings a unit up and records the lock. A unit that already has a
// lock fails AlreadyRunning without spawning anything.
func (s *Supervisor) Start(m *manifest.Manifest, unit layout.Unit) error {
	name := layout.NormalizeName(m.Shuriken.Name)
	s.logger.Infof("Starting shuriken %s", name)

	mgmt := m.Shuriken.Management
	if mgmt == nil {
		return errors.NewValidationError("shuriken has no management declaration", nil).
			WithContext("name", name)
	}

	lockPath := unit.LockPath()
	if lockfile.Exists(lockPath) {
		return errors.NewAlreadyRunningError("shuriken is already running", nil).
			WithContext("name", name)
	}

	if err := os.MkdirAll(unit.MetaDir(), 0o755); err != nil {
		return errors.NewIOError("failed to create unit metadata directory", err).
			WithContext("dir", unit.MetaDir())
	}

	switch mgmt.Type {
	case manifest.ManagementNative:
		return s.startNative(name, m, mgmt, unit)
	case manifest.ManagementScript:
		return s.startScript(name, mgmt, unit)
	}
	return errors.NewValidationError("unsupported management type", nil).
		WithContext("type", string(mgmt.Type))
}

func (s *Supervisor) startNative(name string, m *manifest.Manifest, mgmt *manifest.Management, unit layout.Unit) error {
	bin := mgmt.BinPath.Path()
	cwd := unit.Dir()
	if !mgmt.Cwd.IsZero() {
		cwd = unit.Resolve(mgmt.Cwd.Path())
	}

	var cmd *exec.Cmd
	if m.Shuriken.RequireAdmin {
		cmd = hostcmd.Admin(bin, mgmt.Args)
	} else {
		cmd = exec.Command(bin, mgmt.Args...)
	}
	cmd.Dir = cwd

	if err := cmd.Start(); err != nil {
		return errors.NewSpawnError("failed to spawn process", err).
			WithContext("name", name).
			WithContext("bin", bin)
	}

	pid := int32(cmd.Process.Pid)

	// Reap the child when it exits so no zombie outlives it.
	go func() { _ = cmd.Wait() }()

	startTime, err := lockfile.ProcessStartTime(pid)
	if err != nil {
		return errors.NewInternalError("failed to query start time of spawned process", err).
			WithContext("name", name).
			WithContext("pid", pid)
	}

	lock := &lockfile.Lock{Name: name, Kind: lockfile.KindNative, PID: pid, StartTime: startTime}
	if err := lockfile.Write(unit.LockPath(), lock); err != nil {
		return err
	}

	s.logger.Infof("Shuriken %s running with PID %d", name, pid)
	return nil
}

func (s *Supervisor) startScript(name string, mgmt *manifest.Management, unit layout.Unit) error {
	engine := scripting.NewEngine(unit.Dir(), s.logger)
	if err := engine.ExecuteFunction("start", mgmt.ScriptPath); err != nil {
		return err
	}

	lock := &lockfile.Lock{Name: name, Kind: lockfile.KindScript}
	if err := lockfile.Write(unit.LockPath(), lock); err != nil {
		return err
	}

	s.logger.Infof("Shuriken %s started via management script", name)
	return nil
}

// Stop takes a unit down and removes the lock. Without a lock it fails
// NotRunning. A native lock whose PID no longer refers to the recorded
// process incarnation fails StaleLock, and the stale lock is removed as
// cleanup; the unrelated process now holding that PID is never signaled.
func (s *Supervisor) Stop(m *manifest.Manifest, unit layout.Unit) error {
	name := layout.NormalizeName(m.Shuriken.Name)
	s.logger.Infof("Stopping shuriken %s", name)

	lockPath := unit.LockPath()
	if !lockfile.Exists(lockPath) {
		return errors.NewNotRunningError("shuriken is not running", nil).
			WithContext("name", name)
	}

	lock, err := lockfile.Read(lockPath)
	if err != nil {
		// A lock that does not parse stays on disk for the operator.
		return err
	}

	switch lock.Kind {
	case lockfile.KindScript:
		return s.stopScript(name, m, unit, lockPath)
	case lockfile.KindNative:
		return s.stopNative(name, lock, lockPath)
	}
	return errors.NewFormatError("lock file has an unsupported kind", nil).
		WithContext("kind", string(lock.Kind))
}

func (s *Supervisor) stopScript(name string, m *manifest.Manifest, unit layout.Unit, lockPath string) error {
	mgmt := m.Shuriken.Management
	if mgmt == nil || mgmt.Type != manifest.ManagementScript {
		return errors.NewValidationError("lock records script maintenance but the manifest declares none", nil).
			WithContext("name", name)
	}

	engine := scripting.NewEngine(unit.Dir(), s.logger)
	if err := engine.ExecuteFunction("stop", mgmt.ScriptPath); err != nil {
		return err
	}

	return lockfile.Remove(lockPath)
}

func (s *Supervisor) stopNative(name string, lock *lockfile.Lock, lockPath string) error {
	if !lock.Current() {
		if err := lockfile.Remove(lockPath); err != nil {
			return err
		}
		return errors.NewStaleLockError("lock file does not match any live process", nil).
			WithContext("name", name).
			WithContext("pid", lock.PID)
	}

	proc, err := process.NewProcess(lock.PID)
	if err != nil {
		// The process exited between the verification and now.
		return lockfile.Remove(lockPath)
	}

	if err := proc.Terminate(); err != nil {
		return errors.NewInternalError("failed to signal process", err).
			WithContext("name", name).
			WithContext("pid", lock.PID)
	}

	deadline := time.Now().Add(s.gracefulTimeout)
	for time.Now().Before(deadline) {
		if !lock.Current() {
			s.logger.Infof("Shuriken %s exited after terminate", name)
			return lockfile.Remove(lockPath)
		}
		time.Sleep(pollInterval)
	}

	s.logger.Warnf("Shuriken %s did not exit within %s, killing", name, s.gracefulTimeout)
	if err := proc.Kill(); err != nil {
		return errors.NewInternalError("failed to kill process", err).
			WithContext("name", name).
			WithContext("pid", lock.PID)
	}
	return lockfile.Remove(lockPath)
}
