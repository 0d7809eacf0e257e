package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ckoons/Tekton-sub006/errors"
	"github.com/ckoons/Tekton-sub006/pkg/retry"
)

const (
	// defaultLockTimeout is the absolute budget for acquiring a registry lock.
	defaultLockTimeout = 5 * time.Second
	// staleLockAge is how old a lock file must be before its owning process is
	// presumed dead and the file is removed.
	staleLockAge = 60 * time.Second
)

// fileLock is an OS advisory file lock shared across launcher processes.
// Acquisition uses a bounded retry loop with exponential backoff; lock files
// older than staleLockAge are removed opportunistically since their owner is
// presumed dead.
type fileLock struct {
	path       string
	timeout    time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

func newFileLock(path string, logger *slog.Logger) *fileLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &fileLock{
		path:       path,
		timeout:    defaultLockTimeout,
		staleAfter: staleLockAge,
		logger:     logger,
	}
}

// acquire takes the lock, shared or exclusive, and returns a release func.
// Failure after the retry budget surfaces ErrLockTimeout.
func (l *fileLock) acquire(ctx context.Context, exclusive bool) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var locked *os.File
	attempt := func() error {
		l.removeIfStale()

		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return err
		}

		how := unix.LOCK_SH
		if exclusive {
			how = unix.LOCK_EX
		}
		if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
			_ = f.Close()
			return fmt.Errorf("flock %s: %w", l.path, err)
		}

		if exclusive {
			// PID is diagnostic only; the flock is the actual exclusion.
			_ = f.Truncate(0)
			_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
		}

		locked = f
		return nil
	}

	if err := retry.Do(ctx, retry.Locks(), attempt); err != nil {
		l.logger.Warn("lock acquisition exhausted retry budget",
			"path", l.path, "exclusive", exclusive, "error", err)
		return nil, errors.WrapTransient(errors.ErrLockTimeout, "fileLock", "acquire", "lock "+l.path)
	}

	f := locked
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// removeIfStale deletes the lock file when its mtime says the owner died.
// Removal is best-effort; a concurrent holder still holds its flock on the
// old inode.
func (l *fileLock) removeIfStale() {
	fi, err := os.Stat(l.path)
	if err != nil {
		return
	}
	if time.Since(fi.ModTime()) > l.staleAfter {
		if err := os.Remove(l.path); err == nil {
			l.logger.Warn("removed stale lock file", "path", l.path, "age", time.Since(fi.ModTime()))
		}
	}
}
