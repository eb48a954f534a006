package fs

import (
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
type ChaosConfig struct {
	OpenFailRate    float64 // Fail OpenFile (this includes lock file opens)
	ReadFailRate    float64 // Fail ReadFile entirely
	PartialReadRate float64 // Return truncated data from ReadFile
	WriteFailRate   float64 // Fail WriteFileAtomic before anything is replaced
	RemoveFailRate  float64 // Fail Remove
	StatFailRate    float64 // Fail Stat/Exists
}

// DefaultChaosConfig returns a config with reasonable fault rates for testing.
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		OpenFailRate:    0.02,
		ReadFailRate:    0.02,
		PartialReadRate: 0.02,
		WriteFailRate:   0.05,
		RemoveFailRate:  0.02,
		StatFailRate:    0.01,
	}
}

// ChaosMode controls how Chaos behaves.
type ChaosMode uint8

const (
	// ChaosModePassthrough behaves like the underlying FS and ignores fault rates.
	ChaosModePassthrough ChaosMode = iota

	// ChaosModeInject enables fault-rate injection.
	ChaosModeInject
)

// Chaos wraps an [FS] and injects random failures for testing.
//
// Injected errors are real OS errors (syscall.Errno wrapped in *os.PathError)
// so os.IsNotExist/errors.Is behave as they would for real failures. Use
// [IsInjected] to tell injected errors apart from real ones.
//
// Writes go through the wrapped FS's atomic write; an injected write failure
// happens before the wrapped write starts, which mirrors a failed temp file
// write or rename: the target keeps its previous contents.
//
// The zero mode is [ChaosModePassthrough]; call [Chaos.SetMode] to inject.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	mu  sync.Mutex
	rng *rand.Rand

	openFails    atomic.Int64
	readFails    atomic.Int64
	partialReads atomic.Int64
	writeFails   atomic.Int64
	removeFails  atomic.Int64
	statFails    atomic.Int64
}

// NewChaos creates a new Chaos filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
func NewChaos(fs FS, seed int64, config ChaosConfig) *Chaos {
	return &Chaos{
		fs:     fs,
		rng:    rand.New(rand.NewSource(seed)),
		config: config,
	}
}

// SetMode updates Chaos behavior. Safe to call concurrently with filesystem
// operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails    int64
	ReadFails    int64
	PartialReads int64
	WriteFails   int64
	RemoveFails  int64
	StatFails    int64
}

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:    c.openFails.Load(),
		ReadFails:    c.readFails.Load(),
		PartialReads: c.partialReads.Load(),
		WriteFails:   c.writeFails.Load(),
		RemoveFails:  c.removeFails.Load(),
		StatFails:    c.statFails.Load(),
	}
}

// TotalFaults returns the total number of injected faults.
func (c *Chaos) TotalFaults() int64 {
	s := c.Stats()

	return s.OpenFails + s.ReadFails + s.PartialReads + s.WriteFails +
		s.RemoveFails + s.StatFails
}

func (c *Chaos) injecting() bool {
	return ChaosMode(c.mode.Load()) == ChaosModeInject
}

// should returns true with the given probability when chaos is injecting.
func (c *Chaos) should(rate float64) bool {
	if !c.injecting() || rate <= 0 {
		return false
	}

	return c.randFloat() < rate
}

func (c *Chaos) randFloat() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Float64()
}

func (c *Chaos) randIntn(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Intn(n)
}

func (c *Chaos) pickRandom(errs []syscall.Errno) syscall.Errno {
	return errs[c.randIntn(len(errs))]
}

// pathError creates an *os.PathError with the given operation, path, and
// errno, matching what the real OS returns.
func pathError(op, path string, errno syscall.Errno) error {
	pe := &os.PathError{Op: op, Path: path, Err: errno}
	markInjectedPathError(pe)

	return pe
}

// --- File Operations ---

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		return nil, pathError("open", path, c.pickRandom([]syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EMFILE}))
	}

	return c.fs.OpenFile(path, flag, perm)
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.should(c.config.ReadFailRate) {
		c.readFails.Add(1)

		return nil, pathError("read", path, c.pickRandom([]syscall.Errno{syscall.EIO, syscall.EACCES}))
	}

	data, err := c.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(data) > 1 && c.should(c.config.PartialReadRate) {
		c.partialReads.Add(1)

		return data[:c.randIntn(len(data)-1)+1], nil
	}

	return data, nil
}

func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return pathError("write", path, c.pickRandom([]syscall.Errno{syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS}))
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

// --- Directory Operations ---

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	return c.fs.MkdirAll(path, perm)
}

// --- Metadata ---

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return nil, pathError("stat", path, syscall.EIO)
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return false, pathError("stat", path, syscall.EIO)
	}

	return c.fs.Exists(path)
}

// --- Mutations ---

func (c *Chaos) Remove(path string) error {
	if c.should(c.config.RemoveFailRate) {
		c.removeFails.Add(1)

		return pathError("remove", path, c.pickRandom([]syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EBUSY}))
	}

	return c.fs.Remove(path)
}

// Compile-time interface check.
var _ FS = (*Chaos)(nil)
