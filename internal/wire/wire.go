package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version   byte = 1
	kindEntry byte = 1

	hdrLen = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("rtcache: corrupt slot entry")
	magic4     = [...]byte{'R', 'T', 'C', 'S'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeEntry frames a slot payload with the generation it was fetched under.
//
//	magic(4) | ver(1) | kind(1=entry) | gen(u64 be) | vlen(u32 be) | payload(vlen)
func EncodeEntry(gen uint64, payload []byte) []byte {
	out := make([]byte, hdrLen+len(payload))
	copy(out, magic4[:])
	out[4] = version
	out[5] = kindEntry
	binary.BigEndian.PutUint64(out[6:14], gen)
	binary.BigEndian.PutUint32(out[14:18], uint32(len(payload)))
	copy(out[hdrLen:], payload)
	return out
}

// DecodeEntry validates the frame and returns its generation and payload.
// The payload aliases b. Trailing bytes are rejected.
func DecodeEntry(b []byte) (gen uint64, payload []byte, err error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return 0, nil, ErrCorrupt
	}
	gen = binary.BigEndian.Uint64(b[6:14])
	vlen := int(binary.BigEndian.Uint32(b[14:18]))
	if vlen < 0 || vlen != len(b)-hdrLen {
		return 0, nil, ErrCorrupt
	}
	return gen, b[hdrLen:], nil
}
