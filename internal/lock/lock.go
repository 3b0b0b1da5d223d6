// Package lock serializes daemon instances per session with an advisory
// flock on a pidfile. Two daemons syncing the same account would fight
// over read receipts and room membership.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError reports that another process holds the session lock.
type HeldError struct {
	PID  int
	Path string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("session locked by pid %d (%s)", e.PID, e.Path)
}

// Lock is an acquired session pidfile.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes an exclusive non-blocking flock on the pidfile at path,
// creating parent directories as needed. When another process holds the
// lock its pid is read back for the error message.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open pidfile: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(path)
		_ = f.Close()
		return nil, &HeldError{PID: holderPID(string(data)), Path: path}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	stamp := fmt.Sprintf("%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(stamp); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{f: f, path: path}, nil
}

// Path returns the pidfile location.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the pidfile. Safe on a nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.f.Close()
	l.f = nil
	return err
}

// holderPID extracts the pid from a "pid timestamp" stamp line.
func holderPID(stamp string) int {
	fields := strings.Fields(stamp)
	if len(fields) == 0 {
		return 0
	}
	pid, _ := strconv.Atoi(fields[0])
	return pid
}
