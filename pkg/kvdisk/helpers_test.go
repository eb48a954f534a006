package kvdisk_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"

	"github.com/calvinalkan/kvdisk/pkg/kvdisk"
)

// testClock is a settable clock for TTL tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// recordingProfiler keeps every call it observes.
type recordingProfiler struct {
	mu     sync.Mutex
	begins []kvdisk.ServiceCall
	ends   []kvdisk.CallResult
}

func (p *recordingProfiler) BeginServiceCall(call kvdisk.ServiceCall) kvdisk.CallID {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.begins = append(p.begins, call)

	return kvdisk.CallID(len(p.begins))
}

func (p *recordingProfiler) EndServiceCall(_ kvdisk.CallID, result kvdisk.CallResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ends = append(p.ends, result)
}

func newMemoryLogger() (*log.Logger, *memory.Handler) {
	h := memory.New()

	return &log.Logger{Handler: h, Level: log.DebugLevel}, h
}

func cachePath(t *testing.T) string {
	t.Helper()

	return filepath.Join(t.TempDir(), "kv.bin")
}

func kv(key, value string) kvdisk.KeyValue {
	return kvdisk.KeyValue{Key: key, Value: []byte(value)}
}

func stringValues(m map[string][]byte) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = string(v)
	}

	return out
}
