// Package lockfile reads and writes the on-disk proof-of-running record
// for a shuriken. Lock presence is the only authoritative "running"
// signal; no in-memory registry may contradict it.
package lockfile

import (
	"encoding/json"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/fsx"
)

// FileName is the lock's name inside a unit's metadata directory.
const FileName = "shuriken.lck"

// Kind tells how the locked shuriken is maintained.
type Kind string

const (
	KindNative Kind = "Native"
	KindScript Kind = "Script"
)

// Lock is the persisted record. Native locks carry the spawned PID and
// its OS-reported start time; script locks carry neither because the
// management script owns any processes it creates.
type Lock struct {
	Name      string `json:"name"`
	Kind      Kind   `json:"type"`
	PID       int32  `json:"pid,omitempty"`
	StartTime int64  `json:"start_time,omitempty"`
}

// Exists reports whether a lock file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Write persists the lock atomically so a crash mid-write cannot leave a
// half-written record behind.
func Write(path string, lock *Lock) error {
	if lock.Name == "" {
		return errors.NewValidationError("lock record needs a shuriken name", nil)
	}
	switch lock.Kind {
	case KindNative:
		if lock.PID <= 0 || lock.StartTime <= 0 {
			return errors.NewValidationError("native lock record needs a PID and start time", nil).
				WithContext("pid", lock.PID)
		}
	case KindScript:
	default:
		return errors.NewValidationError("unsupported lock kind", nil).WithContext("kind", string(lock.Kind))
	}

	data, err := json.Marshal(lock)
	if err != nil {
		return errors.NewInternalError("failed to marshal lock record", err)
	}
	if err := fsx.WriteFileAtomic(path, data, 0o644); err != nil {
		return errors.NewIOError("failed to write lock file", err).WithContext("path", path)
	}
	return nil
}

// Read loads a lock record. A missing file fails NotFound; a file that
// does not parse fails FormatError and is never repaired or overwritten
// with guessed values.
func Read(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("lock file not found", err).WithContext("path", path)
		}
		return nil, errors.NewIOError("failed to read lock file", err).WithContext("path", path)
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, errors.NewFormatError("failed to parse lock file", err).WithContext("path", path)
	}
	return &lock, nil
}

// Remove deletes the lock file. A lock that is already gone is not an
// error; stop and stale cleanup both converge on "no lock".
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove lock file", err).WithContext("path", path)
	}
	return nil
}

// ProcessStartTime returns the OS-reported start time of pid in
// milliseconds since the epoch.
func ProcessStartTime(pid int32) (int64, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0, errors.NewNotFoundError("process not found", err).WithContext("pid", pid)
	}
	created, err := proc.CreateTime()
	if err != nil {
		return 0, errors.NewIOError("failed to query process start time", err).WithContext("pid", pid)
	}
	return created, nil
}

// Current reports whether a native lock's PID still refers to the same
// process incarnation. The recorded start time must equal the OS-reported
// one; a changed start time means the PID was reused by something else.
func (l *Lock) Current() bool {
	if l.Kind != KindNative {
		return false
	}
	started, err := ProcessStartTime(l.PID)
	if err != nil {
		return false
	}
	return started == l.StartTime
}
