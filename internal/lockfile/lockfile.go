// Package lockfile makes sure a single monitor process writes to a data
// directory.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
)

const Name = "solwatch.lock"

// Lock is an exclusive flock on <dir>/solwatch.lock. The kernel drops it when
// the process exits, however it exits.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock without blocking, a *HeldError is returned when
// another process holds it.
func Acquire(dir string) (*Lock, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	path := filepath.Join(dir, Name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		file.Close()
		return nil, &HeldError{Path: path, Holder: holder(path), Err: err}
	}

	// the previous holder's pid is only overwritten once the lock is ours
	err = file.Truncate(0)
	if err == nil {
		_, err = file.WriteAt([]byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0)
	}
	if err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	return &Lock{file: file, path: path}, nil
}

// Release clears and unlocks the lock file, it may be called more than once.
// The file itself stays, removing it would let two processes lock different
// inodes under the same path.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.file.Truncate(0)
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	l.file = nil
	return err
}

type HeldError struct {
	Path   string
	Holder string
	Err    error
}

func (e *HeldError) Error() string {
	msg := fmt.Sprintf("another solwatch process uses this data directory (lock file %s)", e.Path)
	if e.Holder != "" {
		msg += ": " + e.Holder
	}
	return msg
}

func (e *HeldError) Unwrap() error {
	return e.Err
}

func holder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	pid := parsePID(string(data))
	if pid <= 0 {
		return ""
	}
	running, err := process.PidExists(int32(pid))
	if err != nil || !running {
		return fmt.Sprintf("pid %d (not running)", pid)
	}
	return fmt.Sprintf("pid %d", pid)
}

func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		value, found := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !found {
			continue
		}
		pid, err := strconv.Atoi(value)
		if err == nil {
			return pid
		}
	}
	return 0
}
