package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ckoons/Tekton-sub006/errors"
)

// File names inside a registry directory. Lock files are named by convention
// so every launcher process agrees on them.
const (
	registryFileName       = "registry.json"
	auditFileName          = "audit.log"
	registrationLockName   = ".registration.lock"
	portAllocationLockName = ".port_allocation.lock"
)

// FileBackend persists the registry as a single JSON document in a directory
// shared by all launcher processes. Mutations hold an exclusive advisory file
// lock; reads hold a shared one. Writes are atomic: serialize to a temp file
// in the same directory, fsync, rename over the target.
type FileBackend struct {
	dir       string
	path      string
	regLock   *fileLock
	allocLock *fileLock
	logger    *slog.Logger
}

// NewFileBackend creates (if needed) the registry directory and returns a
// backend over it. Stale lock files left by dead processes are removed up
// front.
func NewFileBackend(dir string, logger *slog.Logger) (*FileBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "FileBackend", "NewFileBackend", "create registry directory")
	}

	b := &FileBackend{
		dir:       dir,
		path:      filepath.Join(dir, registryFileName),
		regLock:   newFileLock(filepath.Join(dir, registrationLockName), logger),
		allocLock: newFileLock(filepath.Join(dir, portAllocationLockName), logger),
		logger:    logger,
	}

	// Startup cleanup: a lock file older than the stale threshold belongs to a
	// process presumed dead.
	b.regLock.removeIfStale()
	b.allocLock.removeIfStale()

	return b, nil
}

// Path returns the registry file path.
func (b *FileBackend) Path() string {
	return b.path
}

// AuditPath returns the conventional audit log path for this directory.
func (b *FileBackend) AuditPath() string {
	return filepath.Join(b.dir, auditFileName)
}

// Load reads a consistent snapshot under the shared registration lock.
func (b *FileBackend) Load(ctx context.Context) (map[string]*Specialist, error) {
	release, err := b.regLock.acquire(ctx, false)
	if err != nil {
		return nil, errors.Wrap(err, "FileBackend", "Load", "acquire shared lock")
	}
	defer release()

	return b.read()
}

// Mutate loads the store, applies fn, and persists atomically when fn reports
// dirty — all under the exclusive registration lock, so the read-check-write
// sequence is race-free against other processes.
func (b *FileBackend) Mutate(ctx context.Context, fn func(map[string]*Specialist) (bool, error)) error {
	release, err := b.regLock.acquire(ctx, true)
	if err != nil {
		return errors.Wrap(err, "FileBackend", "Mutate", "acquire exclusive lock")
	}
	defer release()

	specialists, err := b.read()
	if err != nil {
		return err
	}

	dirty, err := fn(specialists)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	return b.write(specialists)
}

// AllocateView runs fn against a snapshot under the exclusive port-allocation
// lock. Allocation never writes the store; registration re-checks port
// uniqueness under its own lock, so allocation only needs to serialize
// concurrent allocators.
func (b *FileBackend) AllocateView(ctx context.Context, fn func(map[string]*Specialist) error) error {
	release, err := b.allocLock.acquire(ctx, true)
	if err != nil {
		return errors.Wrap(err, "FileBackend", "AllocateView", "acquire allocation lock")
	}
	defer release()

	specialists, err := b.read()
	if err != nil {
		return err
	}
	return fn(specialists)
}

func (b *FileBackend) read() (map[string]*Specialist, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Specialist), nil
		}
		return nil, errors.WrapTransient(err, "FileBackend", "read", "read registry file")
	}
	if len(data) == 0 {
		return make(map[string]*Specialist), nil
	}

	var specialists map[string]*Specialist
	if err := json.Unmarshal(data, &specialists); err != nil {
		b.logger.Error("registry file is not valid JSON", "path", b.path, "error", err)
		return nil, errors.WrapFatal(errors.ErrRegistryCorrupted, "FileBackend", "read", "parse registry file")
	}
	if specialists == nil {
		specialists = make(map[string]*Specialist)
	}
	return specialists, nil
}

// write serializes to a temp file in the registry directory, fsyncs it, and
// renames it over the target so readers never observe a partial write.
func (b *FileBackend) write(specialists map[string]*Specialist) error {
	data, err := json.MarshalIndent(specialists, "", "  ")
	if err != nil {
		return errors.WrapInvalid(err, "FileBackend", "write", "marshal registry")
	}

	tmp, err := os.CreateTemp(b.dir, ".registry-*.tmp")
	if err != nil {
		return errors.WrapTransient(err, "FileBackend", "write", "create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.WrapTransient(err, "FileBackend", "write", "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.WrapTransient(err, "FileBackend", "write", "fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapTransient(err, "FileBackend", "write", "close temp file")
	}

	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapTransient(err, "FileBackend", "write", "rename temp file over registry")
	}
	return nil
}
