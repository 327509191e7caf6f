package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// pidFileName sits beside cache.db; holding its lock means owning the cache.
const pidFileName = "monitor.pid"

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755
)

// errAlreadyRunning is returned when another monitor holds the instance lock.
var errAlreadyRunning = errors.New("another extraction-monitor is already running")

func pidFilePath(cacheDir string) string {
	return filepath.Join(cacheDir, pidFileName)
}

// writePIDFile acquires an exclusive non-blocking lock on path and writes
// the current process ID into it. The returned cleanup removes the file and
// releases the lock.
func writePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, errors.New("PID file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	lock := flock.New(path, flock.SetPermissions(pidFilePermissions))

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	if !ok {
		if pid, readErr := readPIDFile(path); readErr == nil {
			return nil, fmt.Errorf("%w (PID %d holds %s)", errAlreadyRunning, pid, path)
		}

		return nil, fmt.Errorf("%w (could not lock %s)", errAlreadyRunning, path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), pidFilePermissions); err != nil {
		_ = lock.Unlock()

		return nil, fmt.Errorf("writing PID file: %w", err)
	}

	return func() {
		os.Remove(path)
		_ = lock.Unlock()
	}, nil
}

// readPIDFile reads the PID from the given file path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// runningMonitor returns the PID of the monitor holding the lock at path,
// or 0 when no monitor is running.
func runningMonitor(path string) (int, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	lock := flock.New(path)

	ok, err := lock.TryRLock()
	if err != nil {
		return 0, fmt.Errorf("probing %s: %w", path, err)
	}

	if ok {
		_ = lock.Unlock()
		return 0, nil
	}

	return readPIDFile(path)
}
