package kvdisk

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
)

// Service call types reported to a [Profiler].
const (
	CallGet    = "kvcache-get"
	CallSet    = "kvcache-set"
	CallDelete = "kvcache-del"
)

// ServiceName is the cache name reported in every [ServiceCall].
const ServiceName = "disk"

// ServiceCall describes an operation at the moment it begins.
type ServiceCall struct {
	Type string
	Name string
	Keys []string

	// TTL is only set for [CallSet].
	TTL time.Duration
}

// CallResult describes how an operation ended.
type CallResult struct {
	// Hits lists the keys a [CallGet] returned.
	Hits []string

	// Err is the error the operation returned, if any.
	Err error
}

// CallID correlates BeginServiceCall with EndServiceCall.
type CallID uint64

// Profiler observes cache operations. It must not affect their outcome.
type Profiler interface {
	BeginServiceCall(call ServiceCall) CallID
	EndServiceCall(id CallID, result CallResult)
}

// NopProfiler discards all calls.
type NopProfiler struct{}

func (NopProfiler) BeginServiceCall(ServiceCall) CallID { return 0 }
func (NopProfiler) EndServiceCall(CallID, CallResult)   {}

// LogProfiler reports each operation and its duration at debug level.
type LogProfiler struct {
	logger log.Interface

	mu      sync.Mutex
	nextID  atomic.Uint64
	pending map[CallID]pendingCall
}

type pendingCall struct {
	call  ServiceCall
	start time.Time
}

// NewLogProfiler returns a [LogProfiler] writing to logger.
// A nil logger uses the apex/log package logger.
func NewLogProfiler(logger log.Interface) *LogProfiler {
	if logger == nil {
		logger = log.Log
	}

	return &LogProfiler{
		logger:  logger,
		pending: make(map[CallID]pendingCall),
	}
}

func (p *LogProfiler) BeginServiceCall(call ServiceCall) CallID {
	id := CallID(p.nextID.Add(1))

	p.mu.Lock()
	p.pending[id] = pendingCall{call: call, start: time.Now()}
	p.mu.Unlock()

	return id
}

func (p *LogProfiler) EndServiceCall(id CallID, result CallResult) {
	p.mu.Lock()
	pc, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()

	if !ok {
		return
	}

	fields := log.Fields{
		"type":     pc.call.Type,
		"name":     pc.call.Name,
		"keys":     len(pc.call.Keys),
		"duration": time.Since(pc.start).String(),
	}

	if pc.call.Type == CallSet {
		fields["ttl"] = pc.call.TTL.String()
	}

	if pc.call.Type == CallGet {
		fields["hits"] = len(result.Hits)
	}

	entry := p.logger.WithFields(fields)
	if result.Err != nil {
		entry.WithError(result.Err).Debug("kvcache call failed")
		return
	}

	entry.Debug("kvcache call")
}

var (
	_ Profiler = NopProfiler{}
	_ Profiler = (*LogProfiler)(nil)
)
