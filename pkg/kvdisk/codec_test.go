package kvdisk_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvdisk/pkg/kvdisk"
)

func Test_DecodeSnapshot_Roundtrips_EncodeSnapshot(t *testing.T) {
	t.Parallel()

	expiry := time.Date(2030, 1, 2, 3, 4, 5, 6, time.UTC)

	tests := []struct {
		name     string
		snapshot kvdisk.Snapshot
	}{
		{name: "empty", snapshot: kvdisk.Snapshot{}},
		{name: "single", snapshot: kvdisk.Snapshot{"a": {Value: []byte("1")}}},
		{
			name: "expiry beyond int64 nanoseconds",
			snapshot: kvdisk.Snapshot{
				"far":       {Value: []byte("v"), Expiry: time.Date(2300, 6, 1, 0, 0, 0, 999_999_999, time.UTC)},
				"pre-epoch": {Value: []byte("v"), Expiry: time.Date(1900, 1, 1, 0, 0, 0, 1, time.UTC)},
			},
		},
		{
			name: "mixed",
			snapshot: kvdisk.Snapshot{
				"empty-value":       {Value: []byte{}},
				"nil-value":         {},
				"ttl":               {Value: []byte("expires"), Expiry: expiry},
				"no-ttl":            {Value: []byte("forever")},
				"":                  {Value: []byte("empty key")},
				"spaces and\nlines": {Value: []byte("x")},
				"üñíçødé/🔑":         {Value: []byte{0, 1, 2, 255}},
				"\x00binary\xff":    {Value: []byte("raw key bytes"), Expiry: expiry.Add(time.Hour)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := kvdisk.EncodeSnapshot(tt.snapshot)

			got, err := kvdisk.DecodeSnapshot(data)
			require.NoError(t, err)

			diff := cmp.Diff(tt.snapshot, got, cmpopts.EquateEmpty())
			assert.Empty(t, diff, "snapshot mismatch after roundtrip")

			assert.Equal(t, data, kvdisk.EncodeSnapshot(got), "re-encoding changed the bytes")
		})
	}
}

func Test_EncodeSnapshot_Is_Deterministic(t *testing.T) {
	t.Parallel()

	s := kvdisk.Snapshot{}
	for _, k := range []string{"z", "a", "m", "b", "y"} {
		s[k] = kvdisk.Entry{Value: []byte(k)}
	}

	first := kvdisk.EncodeSnapshot(s)
	for range 20 {
		require.Equal(t, first, kvdisk.EncodeSnapshot(s))
	}
}

func Test_DecodeSnapshot_Rejects_Malformed_Input(t *testing.T) {
	t.Parallel()

	valid := kvdisk.EncodeSnapshot(kvdisk.Snapshot{
		"a": {Value: []byte("1")},
		"b": {Value: []byte("22"), Expiry: time.Unix(100, 0)},
	})

	mutate := func(f func([]byte) []byte) []byte {
		return f(append([]byte(nil), valid...))
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "short header", data: valid[:10]},
		{name: "bad magic", data: mutate(func(b []byte) []byte { b[0] = 'X'; return b })},
		{name: "bad version", data: mutate(func(b []byte) []byte { binary.LittleEndian.PutUint16(b[4:6], 99); return b })},
		{name: "flipped body byte", data: mutate(func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b })},
		{name: "truncated body", data: valid[:len(valid)-3]},
		{name: "count too high", data: mutate(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[8:12], 3); return b })},
		{name: "count too low", data: mutate(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[8:12], 1); return b })},
		{name: "not a snapshot", data: []byte("this is definitely not a cache file")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := kvdisk.DecodeSnapshot(tt.data)
			require.ErrorIs(t, err, kvdisk.ErrCorrupt)
		})
	}
}

func Test_Entry_Expired(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{name: "no expiry", expiry: time.Time{}, want: false},
		{name: "future", expiry: now.Add(time.Second), want: false},
		{name: "exactly now", expiry: now, want: true},
		{name: "past", expiry: now.Add(-time.Second), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := kvdisk.Entry{Value: []byte("v"), Expiry: tt.expiry}
			assert.Equal(t, tt.want, e.Expired(now))
		})
	}
}

func Test_Snapshot_Clone_Does_Not_Alias(t *testing.T) {
	t.Parallel()

	orig := kvdisk.Snapshot{"a": {Value: []byte("abc")}}
	clone := orig.Clone()

	clone["a"].Value[0] = 'z'
	clone["b"] = kvdisk.Entry{}

	assert.Equal(t, "abc", string(orig["a"].Value))
	assert.NotContains(t, orig, "b")
	assert.ElementsMatch(t, []string{"a", "b"}, clone.Keys())
}
