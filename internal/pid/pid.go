package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/gaugectl/internal/errors"
)

const defaultDirPerm = 0o755

// Write writes the current process ID to path. It fails with ErrAlreadyRunning
// when the file names a live process; a stale file is replaced.
func Write(path string) error {
	errFactory := errors.New()

	if path == "" {
		return errFactory.WithData(errors.ErrInvalidArgument, "empty pid file path")
	}

	if running, err := alive(path); err != nil {
		return err
	} else if running {
		return errFactory.WithData(errors.ErrAlreadyRunning, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// alive reports whether path holds the pid of another running process.
func alive(path string) (bool, error) {
	errFactory := errors.New()

	bytes, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errFactory.Wrap(errors.ErrInternal, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
	if err != nil {
		// Garbage in the file is as good as stale.
		return false, nil
	}
	if pid == os.Getpid() {
		return false, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}

	return process.Signal(syscall.Signal(0)) == nil, nil
}

// Remove removes the PID file.
func Remove(path string) error {
	errFactory := errors.New()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
