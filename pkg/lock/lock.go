// Package lock prevents concurrent runs against the same destination root.
//
// The lock is an advisory flock on a file named after a hash of the destination.
// The kernel releases it when the process exits, so a crashed run never leaves a stale lock behind.
package lock

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oneconcern/snapback/pkg/core/status"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const maxAttempts = 3

// Locker holds the lock on a destination root
type Locker struct {
	path string
	pid  int
	fd   *os.File
}

// New creates a Locker for a destination root. The lock file lives in dir, or in the
// temporary directory when dir is empty.
func New(dir, key string) *Locker {
	if dir == "" {
		dir = os.TempDir()
	}
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(key)))[:16]
	return &Locker{
		path: filepath.Join(dir, "snapback-"+hash+".lock"),
		pid:  os.Getpid(),
	}
}

// Path of the lock file
func (l *Locker) Path() string {
	return l.path
}

// Acquire the lock without waiting. A lock held by another process yields ErrLocked.
func (l *Locker) Acquire() error {
	if l.fd != nil {
		return nil
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		fd, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return fmt.Errorf("opening lock file: %w", err)
		}

		if err = unix.Flock(int(fd.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			_ = fd.Close()
			if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
				return status.ErrLocked.Wrapf("%s held by %s", l.path, l.holder())
			}
			return fmt.Errorf("locking %s: %w", l.path, err)
		}

		// the file may have been removed by its previous holder while we were waiting for it
		if !l.sameFile(fd) {
			_ = fd.Close()
			continue
		}

		if err = writePid(fd, l.pid); err != nil {
			_ = unix.Flock(int(fd.Fd()), unix.LOCK_UN)
			_ = fd.Close()
			return err
		}
		l.fd = fd
		return nil
	}
	return status.ErrLocked.Wrapf("%s keeps being replaced", l.path)
}

func (l *Locker) sameFile(fd *os.File) bool {
	opened, err := fd.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return os.SameFile(opened, current)
}

func writePid(fd *os.File, pid int) error {
	if err := fd.Truncate(0); err != nil {
		return fmt.Errorf("truncating lock file: %w", err)
	}
	if _, err := fd.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("writing pid to lock file: %w", err)
	}
	return nil
}

// holder describes the process holding the lock
func (l *Locker) holder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "another process"
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return "another process"
	}
	return "pid " + strconv.Itoa(pid)
}

// Release the lock. The lock file is removed while the lock is still held.
func (l *Locker) Release() error {
	if l.fd == nil {
		return nil
	}
	var err error
	if rerr := os.Remove(l.path); rerr != nil && !os.IsNotExist(rerr) {
		err = multierr.Append(err, rerr)
	}
	err = multierr.Append(err, unix.Flock(int(l.fd.Fd()), unix.LOCK_UN))
	err = multierr.Append(err, l.fd.Close())
	l.fd = nil
	return err
}
