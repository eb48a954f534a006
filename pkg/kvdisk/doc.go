// Package kvdisk provides a persistent key-value cache backed by a single file.
//
// kvdisk is a slow fallback for when a fast shared-memory cache is not
// available. Every read that misses and every write loads or rewrites the
// entire cache file, no matter how few keys it touches. It is not a general
// purpose data store; keep it small.
//
// # Basic Usage
//
//	cache := kvdisk.New(kvdisk.Options{Path: "/var/cache/app/kv.bin"})
//
//	// Write (one file rewrite for the whole batch)
//	err := cache.Set(time.Hour,
//	    kvdisk.KeyValue{Key: "a", Value: []byte("1")},
//	    kvdisk.KeyValue{Key: "b", Value: []byte("2")},
//	)
//
//	// Read (misses and expired entries are simply absent)
//	values, err := cache.Get("a", "b", "c")
//
//	// Delete
//	err = cache.Delete("b")
//
// # Storage Protocol
//
// Writes lock "<path>.lock" with flock, reload the file, apply the batch,
// write the whole snapshot to a temp file in the same directory and rename it
// over the cache file, then release the lock. Holding the lock across
// load→mutate→save makes every batch atomic with respect to other writers.
//
// Reads take the lock only while loading, so they never observe a partial
// file but may observe a snapshot that is stale by the time they return.
//
// [Cache.Get] reloads at most once per call: keys already answered from the
// in-memory snapshot are not re-checked, so a call that starts with a warm
// snapshot can miss keys another process just wrote.
//
// # Concurrency
//
// A [Cache] is safe for concurrent use by multiple goroutines. Multiple
// handles, in one process or many, may share a file; the lock file is what
// serializes them. Lock acquisition blocks without a timeout.
//
// # Error Handling
//
// Configuration errors ([ErrNotConfigured]): set a path before use.
//
// Write errors ([ErrStorageWrite]): the write did not take effect and the
// file keeps its last committed contents. Set and Delete are idempotent, so
// retrying is safe.
//
// Corrupt files ([ErrCorrupt]) are never returned from cache operations; an
// unreadable snapshot is treated as an empty cache.
//
// Misusing the internal load/save protocol panics with an error wrapping
// [ErrContractViolation].
package kvdisk
