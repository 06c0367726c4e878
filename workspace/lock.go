package workspace

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
)

// Lock is an advisory PID lock. The daemon and `roost queue process` both
// take it so two processes never drain the same queue.
type Lock struct {
	path string
	pid  int
}

// AcquireLock takes the PID lock at path. A stale lock (dead or unparseable
// holder) is removed and re-acquired once; a live holder returns ErrLocked
// with the holder PID in the error detail.
func AcquireLock(path string) (*Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		lock, err := tryLock(path)
		if err == nil {
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrapf(err, "failed to create lock file %s", path)
		}

		holderPID, stale := lockHolder(path)
		if !stale {
			return nil, errors.WithDetail(
				errors.Wrap(errors.ErrLocked, "workspace is locked by another roost process"),
				fmt.Sprintf("holder pid %d (lock file %s)", holderPID, path))
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to remove stale lock %s", path)
		}
	}
	// The stale lock was removed but someone else won the re-acquire race.
	return nil, errors.Wrapf(errors.ErrLocked, "lock %s contended", path)
}

func tryLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, am.DefaultFilePermissions)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pid := os.Getpid()
	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Lock{path: path, pid: pid}, nil
}

// lockHolder reads the lock file and reports the holder PID and whether the
// lock is stale. Unreadable or unparseable files are stale; when liveness
// cannot be determined the holder is assumed live.
func lockHolder(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, true
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, true
	}

	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return pid, false
	}
	return pid, !alive
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// PID returns the owning process ID.
func (l *Lock) PID() int { return l.pid }

// Release removes the lock file, but only while this process still owns it.
// Releasing an already-removed lock is a no-op.
func (l *Lock) Release() error {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read lock file %s", l.path)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != l.pid {
		// Someone re-acquired after a stale takeover; leave their lock alone.
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove lock file %s", l.path)
	}
	return nil
}
