package kvdisk

import (
	"maps"
	"slices"
	"time"
)

// Entry is one cached value.
type Entry struct {
	Value []byte

	// Expiry is the instant the entry stops being served. The zero value
	// means the entry never expires.
	Expiry time.Time
}

// Expired reports whether the entry is no longer served at now.
// An entry is live strictly before its expiry.
func (e Entry) Expired(now time.Time) bool {
	return !e.Expiry.IsZero() && !now.Before(e.Expiry)
}

// KeyValue is one element of an ordered write batch.
type KeyValue struct {
	Key   string
	Value []byte
}

// Snapshot is the complete contents of a cache file.
// It is the unit of persistence: there is no per-key storage.
type Snapshot map[string]Entry

// Clone returns a copy of s whose values do not alias s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, e := range s {
		if e.Value != nil {
			e.Value = append([]byte(nil), e.Value...)
		}

		out[k] = e
	}

	return out
}

// Keys returns the keys of s in unspecified order.
func (s Snapshot) Keys() []string {
	return slices.Collect(maps.Keys(s))
}
