package kvdisk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"maps"
	"slices"
	"time"
)

// Binary snapshot format.
//
//	header (16 bytes):
//	  magic   [4]byte  "KVD1"
//	  version uint16
//	  _       uint16   reserved, zero
//	  count   uint32   number of entries
//	  crc     uint32   CRC-32 (IEEE) of the body
//	body, count times:
//	  keyLen  uint32
//	  key     [keyLen]byte
//	  flags   uint8    bit 0: expiry present
//	  expiry  int64    unix seconds, only if flags&1
//	  nanos   uint32   nanoseconds within the second, only if flags&1
//	  valLen  uint32
//	  value   [valLen]byte
//
// All integers are little-endian. Entries are written in key order so equal
// snapshots encode to equal bytes.
const (
	snapshotMagic      = "KVD1"
	snapshotVersion    = 2
	snapshotHeaderSize = 16

	flagHasExpiry = 1 << 0
)

// EncodeSnapshot serializes s into the binary snapshot format.
func EncodeSnapshot(s Snapshot) []byte {
	var body bytes.Buffer

	for _, key := range slices.Sorted(maps.Keys(s)) {
		e := s[key]

		body.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(key))))
		body.WriteString(key)

		if e.Expiry.IsZero() {
			body.WriteByte(0)
		} else {
			body.WriteByte(flagHasExpiry)
			body.Write(binary.LittleEndian.AppendUint64(nil, uint64(e.Expiry.Unix())))
			body.Write(binary.LittleEndian.AppendUint32(nil, uint32(e.Expiry.Nanosecond())))
		}

		body.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(e.Value))))
		body.Write(e.Value)
	}

	out := make([]byte, snapshotHeaderSize, snapshotHeaderSize+body.Len())
	copy(out[0:4], snapshotMagic)
	binary.LittleEndian.PutUint16(out[4:6], snapshotVersion)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(s)))
	binary.LittleEndian.PutUint32(out[12:16], crc32.ChecksumIEEE(body.Bytes()))

	return append(out, body.Bytes()...)
}

// DecodeSnapshot parses data produced by [EncodeSnapshot].
//
// Any structural problem (bad magic, unknown version, checksum mismatch,
// truncation, trailing bytes, duplicate keys) returns an error wrapping
// [ErrCorrupt].
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if len(data) < snapshotHeaderSize {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrCorrupt, len(data))
	}

	if string(data[0:4]) != snapshotMagic {
		return nil, fmt.Errorf("%w: invalid magic", ErrCorrupt)
	}

	if v := binary.LittleEndian.Uint16(data[4:6]); v != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	count := binary.LittleEndian.Uint32(data[8:12])
	body := data[snapshotHeaderSize:]

	if crc := crc32.ChecksumIEEE(body); crc != binary.LittleEndian.Uint32(data[12:16]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	r := reader{buf: body}
	s := make(Snapshot, min(int(count), len(body)))

	for i := range count {
		keyLen, ok := r.u32()
		if !ok {
			return nil, truncated(i)
		}

		key, ok := r.next(keyLen)
		if !ok {
			return nil, truncated(i)
		}

		flags, ok := r.u8()
		if !ok {
			return nil, truncated(i)
		}

		if flags&^flagHasExpiry != 0 {
			return nil, fmt.Errorf("%w: entry %d: unknown flags %#x", ErrCorrupt, i, flags)
		}

		var e Entry

		if flags&flagHasExpiry != 0 {
			secs, ok := r.u64()
			if !ok {
				return nil, truncated(i)
			}

			nanos, ok := r.u32()
			if !ok {
				return nil, truncated(i)
			}

			if nanos >= uint32(time.Second) {
				return nil, fmt.Errorf("%w: entry %d: nanoseconds out of range", ErrCorrupt, i)
			}

			e.Expiry = time.Unix(int64(secs), int64(nanos))
		}

		valLen, ok := r.u32()
		if !ok {
			return nil, truncated(i)
		}

		val, ok := r.next(valLen)
		if !ok {
			return nil, truncated(i)
		}

		if valLen > 0 {
			e.Value = append([]byte(nil), val...)
		}

		k := string(key)
		if _, dup := s[k]; dup {
			return nil, fmt.Errorf("%w: entry %d: duplicate key %q", ErrCorrupt, i, k)
		}

		s[k] = e
	}

	if r.off != len(r.buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.buf)-r.off)
	}

	return s, nil
}

func truncated(entry uint32) error {
	return fmt.Errorf("%w: entry %d: truncated", ErrCorrupt, entry)
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) next(n uint32) ([]byte, bool) {
	if uint64(n) > uint64(len(r.buf)-r.off) {
		return nil, false
	}

	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)

	return b, true
}

func (r *reader) u8() (byte, bool) {
	b, ok := r.next(1)
	if !ok {
		return 0, false
	}

	return b[0], true
}

func (r *reader) u32() (uint32, bool) {
	b, ok := r.next(4)
	if !ok {
		return 0, false
	}

	return binary.LittleEndian.Uint32(b), true
}

func (r *reader) u64() (uint64, bool) {
	b, ok := r.next(8)
	if !ok {
		return 0, false
	}

	return binary.LittleEndian.Uint64(b), true
}
