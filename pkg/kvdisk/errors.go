package kvdisk

import "errors"

// Sentinel errors returned by kvdisk operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, kvdisk.ErrStorageWrite) {
//	    // the write did not happen; retry or give up
//	}
var (
	// ErrNotConfigured indicates an operation ran before a cache file path
	// was set with [Options.Path] or [Cache.SetCacheFile].
	//
	// This is a configuration error and is never retried.
	ErrNotConfigured = errors.New("kvdisk: cache file not configured")

	// ErrContractViolation indicates the load/save protocol was misused: a
	// load while this handle already holds the lock, or a save without a
	// held lock.
	//
	// This is a programming error. It is raised with panic, never returned.
	ErrContractViolation = errors.New("kvdisk: contract violation")

	// ErrCorrupt indicates the cache file could not be decoded.
	//
	// Returned by [DecodeSnapshot]. Cache operations recover from it by
	// treating the cache as empty.
	ErrCorrupt = errors.New("kvdisk: corrupt cache file")

	// ErrStorageWrite indicates the snapshot could not be persisted (disk
	// full, permission denied, rename failure).
	//
	// The cache file is left in its last committed state and the lock has
	// been released. Recovery: retry the operation.
	ErrStorageWrite = errors.New("kvdisk: storage write failed")
)
