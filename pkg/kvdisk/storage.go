package kvdisk

import (
	"errors"
	"fmt"
	"os"

	"github.com/calvinalkan/kvdisk/pkg/fs"
)

// LockPath returns the lock file guarding the cache file at path.
func LockPath(path string) string {
	return path + ".lock"
}

// heldLock is the Locked state of the storage protocol. It is returned by
// load(true) and ends with save or release, whichever comes first.
//
// Callers must defer release right after a successful load so the lock is
// freed on error and panic paths.
type heldLock struct {
	c    *Cache
	path string
	lock *fs.Lock
}

// load replaces the in-memory snapshot with the contents of the cache file.
//
// The exclusive lock is taken for the read. With hold=false it is released
// before load returns and the returned guard is nil. With hold=true the lock
// stays held by the returned guard.
//
// A missing or undecodable file loads as an empty snapshot. Any other read
// error releases the lock and is returned.
//
// Must be called with c.mu held.
func (c *Cache) load(hold bool) (*heldLock, error) {
	if c.held != nil {
		panic(fmt.Errorf("%w: load while this handle holds the lock for %q", ErrContractViolation, c.held.path))
	}

	path, err := c.cacheFile()
	if err != nil {
		return nil, err
	}

	lock, err := c.locker.Lock(LockPath(path))
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}

	readErr := c.read(path)
	if readErr != nil {
		closeErr := lock.Close()
		if closeErr != nil {
			closeErr = fmt.Errorf("releasing lock: %w", closeErr)
		}

		return nil, errors.Join(readErr, closeErr)
	}

	if !hold {
		c.unlock(lock)
		return nil, nil
	}

	h := &heldLock{c: c, path: path, lock: lock}
	c.held = h

	return h, nil
}

func (c *Cache) read(path string) error {
	c.snapshot = make(Snapshot)

	data, err := c.fs.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("reading cache file: %w", err)
	}

	snapshot, err := DecodeSnapshot(data)
	if err != nil {
		c.logger.WithError(err).WithField("path", path).Warn("kvdisk: discarding unreadable cache file")
		return nil
	}

	c.snapshot = snapshot
	c.logger.WithFields(logFields(path, len(snapshot))).Debug("kvdisk: loaded snapshot")

	return nil
}

// unlock releases a lock that is not referenced by a guard. Release errors
// are logged; the kernel drops the lock when its descriptor closes anyway.
func (c *Cache) unlock(lock *fs.Lock) {
	if err := lock.Close(); err != nil {
		c.logger.WithError(err).WithField("lock", lock.Path()).Warn("kvdisk: releasing lock")
	}
}

// save writes the whole snapshot atomically and releases the lock, also when
// the write fails.
//
// Panics with [ErrContractViolation] if the guard no longer holds the lock.
func (h *heldLock) save() error {
	if h.lock == nil {
		panic(fmt.Errorf("%w: save without a held lock for %q", ErrContractViolation, h.path))
	}

	defer h.unlock()

	c := h.c
	data := EncodeSnapshot(c.snapshot)

	if err := c.fs.WriteFileAtomic(h.path, data, c.perm); err != nil {
		// The snapshot holds changes that never reached disk.
		c.snapshot = make(Snapshot)

		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	c.logger.WithFields(logFields(h.path, len(c.snapshot))).Debug("kvdisk: saved snapshot")

	return nil
}

// release gives up the lock without saving. It is a no-op after save.
//
// Releasing without saving discards the in-memory snapshot, since it may
// contain uncommitted changes.
func (h *heldLock) release() {
	if h.lock == nil {
		return
	}

	h.c.snapshot = make(Snapshot)
	h.unlock()
}

func (h *heldLock) unlock() {
	h.c.unlock(h.lock)
	h.lock = nil
	h.c.held = nil
}
