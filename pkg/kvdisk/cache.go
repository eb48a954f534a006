package kvdisk

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/calvinalkan/kvdisk/pkg/fs"
)

// DefaultPerm is the mode of a newly created cache file.
const DefaultPerm os.FileMode = 0o644

// Options configure a [Cache].
type Options struct {
	// Path is the cache file. It may be left empty and set later with
	// [Cache.SetCacheFile]; operations fail with [ErrNotConfigured] until
	// it is set. The lock file is Path + ".lock".
	Path string

	// FS is the filesystem to use. Defaults to [fs.NewReal].
	FS fs.FS

	// Profiler observes every get/set/delete. Defaults to [NopProfiler].
	Profiler Profiler

	// Logger receives debug output and recovery warnings.
	// Defaults to the apex/log package logger.
	Logger log.Interface

	// Now is the clock used for TTLs. Defaults to [time.Now].
	Now func() time.Time

	// Perm is the mode of a newly created cache file. Defaults to [DefaultPerm].
	Perm os.FileMode
}

// KeyValueCache is the contract a cache tier exposes to the layer above it.
// Keys are expected to be normalized by the caller.
type KeyValueCache interface {
	IsAvailable() bool
	Get(keys ...string) (map[string][]byte, error)
	Set(ttl time.Duration, entries ...KeyValue) error
	Delete(keys ...string) error
	Destroy() error
}

// Cache is a handle on one cache file.
//
// Cache is safe for concurrent use. Operations on one handle run one at a
// time; different handles (and processes) are serialized by the file lock.
type Cache struct {
	mu sync.Mutex

	path     string
	fs       fs.FS
	locker   *fs.Locker
	profiler Profiler
	logger   log.Interface
	now      func() time.Time
	perm     os.FileMode

	// snapshot is the last loaded or written state of the file.
	snapshot Snapshot

	// held is non-nil between load(true) and save/release.
	held *heldLock
}

// New returns a cache handle. No file is touched until the first operation.
func New(opts Options) *Cache {
	if opts.FS == nil {
		opts.FS = fs.NewReal()
	}

	if opts.Profiler == nil {
		opts.Profiler = NopProfiler{}
	}

	if opts.Logger == nil {
		opts.Logger = log.Log
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Perm == 0 {
		opts.Perm = DefaultPerm
	}

	return &Cache{
		path:     opts.Path,
		fs:       opts.FS,
		locker:   fs.NewLocker(opts.FS),
		profiler: opts.Profiler,
		logger:   opts.Logger,
		now:      opts.Now,
		perm:     opts.Perm,
		snapshot: make(Snapshot),
	}
}

// SetCacheFile sets the cache file path and returns c for chaining.
//
// Switching files drops the in-memory snapshot of the previous file.
func (c *Cache) SetCacheFile(path string) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()

	if path != c.path {
		c.path = path
		c.snapshot = make(Snapshot)
	}

	return c
}

// CacheFile returns the configured cache file path, or an error wrapping
// [ErrNotConfigured] if none is set.
func (c *Cache) CacheFile() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cacheFile()
}

func (c *Cache) cacheFile() (string, error) {
	if c.path == "" {
		return "", fmt.Errorf("%w: call SetCacheFile before using a disk cache", ErrNotConfigured)
	}

	return c.path, nil
}

// IsAvailable always reports true: a disk cache has no service that can be down.
func (c *Cache) IsAvailable() bool {
	return true
}

// Get returns the live values for keys. Missing and expired keys are absent
// from the result; a miss is never an error.
//
// Keys are first looked up in the in-memory snapshot. The first key that
// cannot be answered from it triggers a reload of the file, at most once per
// call; keys that were already answered are not looked up again.
//
// The returned values are copies.
func (c *Cache) Get(keys ...string) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.cacheFile(); err != nil {
		return nil, err
	}

	id := c.profiler.BeginServiceCall(ServiceCall{
		Type: CallGet,
		Name: ServiceName,
		Keys: keys,
	})

	results, err := c.getKeys(keys)

	c.profiler.EndServiceCall(id, CallResult{
		Hits: slices.Collect(maps.Keys(results)),
		Err:  err,
	})

	return results, err
}

func (c *Cache) getKeys(keys []string) (map[string][]byte, error) {
	now := c.now()
	results := make(map[string][]byte, len(keys))
	reloaded := false

	for _, key := range keys {
		for {
			if e, ok := c.snapshot[key]; ok && !e.Expired(now) {
				results[key] = cloneBytes(e.Value)
				break
			}

			if reloaded {
				break
			}

			if _, err := c.load(false); err != nil {
				return nil, err
			}

			reloaded = true
		}
	}

	return results, nil
}

// Set stores entries with a common TTL. A zero ttl stores entries that never
// expire; any other ttl expires them at now+ttl.
//
// The batch is applied in order, so a key repeated in entries ends up with
// its last value. The whole cache file is rewritten once per call: batching
// keys into one Set is much cheaper than calling Set per key.
//
// Either the whole batch is committed or, on error, none of it is.
func (c *Cache) Set(ttl time.Duration, entries ...KeyValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.cacheFile(); err != nil {
		return err
	}

	var expiry time.Time
	if ttl != 0 {
		expiry = c.now().Add(ttl)
	}

	keys := make([]string, len(entries))
	for i, kv := range entries {
		keys[i] = kv.Key
	}

	id := c.profiler.BeginServiceCall(ServiceCall{
		Type: CallSet,
		Name: ServiceName,
		Keys: keys,
		TTL:  ttl,
	})

	err := c.write(func(s Snapshot) {
		for _, kv := range entries {
			s[kv.Key] = Entry{Value: cloneBytes(kv.Value), Expiry: expiry}
		}
	})

	c.profiler.EndServiceCall(id, CallResult{Err: err})

	return err
}

// SetMap is [Cache.Set] for an unordered batch.
func (c *Cache) SetMap(entries map[string][]byte, ttl time.Duration) error {
	batch := make([]KeyValue, 0, len(entries))
	for _, k := range slices.Sorted(maps.Keys(entries)) {
		batch = append(batch, KeyValue{Key: k, Value: entries[k]})
	}

	return c.Set(ttl, batch...)
}

// Delete removes keys. Keys that are not present are ignored.
// Like [Cache.Set], it rewrites the whole file once per call.
func (c *Cache) Delete(keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.cacheFile(); err != nil {
		return err
	}

	id := c.profiler.BeginServiceCall(ServiceCall{
		Type: CallDelete,
		Name: ServiceName,
		Keys: keys,
	})

	err := c.write(func(s Snapshot) {
		for _, key := range keys {
			delete(s, key)
		}
	})

	c.profiler.EndServiceCall(id, CallResult{Err: err})

	return err
}

// write runs one load→mutate→save cycle under the file lock.
// Must be called with c.mu held.
func (c *Cache) write(mutate func(Snapshot)) error {
	h, err := c.load(true)
	if err != nil {
		return err
	}

	defer h.release()

	mutate(c.snapshot)

	return h.save()
}

// Destroy removes the cache file. A missing file is not an error.
//
// Destroy does not take the lock: a concurrent write from another handle
// may recreate the file right after it is removed. The lock file is kept,
// because removing it while another process waits on it would let two
// writers lock different inodes.
func (c *Cache) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path, err := c.cacheFile()
	if err != nil {
		return err
	}

	c.snapshot = make(Snapshot)

	err = c.fs.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing cache file: %w", err)
	}

	c.logger.WithField("path", path).Debug("kvdisk: destroyed cache file")

	return nil
}

// GetKey returns the live value for one key.
func (c *Cache) GetKey(key string) ([]byte, bool, error) {
	values, err := c.Get(key)
	if err != nil {
		return nil, false, err
	}

	v, ok := values[key]

	return v, ok, nil
}

// SetKey stores one value. See [Cache.Set] for ttl semantics.
func (c *Cache) SetKey(key string, value []byte, ttl time.Duration) error {
	return c.Set(ttl, KeyValue{Key: key, Value: value})
}

// DeleteKey removes one key.
func (c *Cache) DeleteKey(key string) error {
	return c.Delete(key)
}

// Entries reloads the file and returns a copy of every entry, expired ones
// included. It is meant for inspection tooling.
func (c *Cache) Entries() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.load(false); err != nil {
		return nil, err
	}

	return c.snapshot.Clone(), nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append([]byte{}, b...)
}

func logFields(path string, entries int) log.Fields {
	return log.Fields{"path": path, "entries": entries}
}

var _ KeyValueCache = (*Cache)(nil)
