// Package wire frames tier entries stored in a byte provider.
//
//	magic(4) | ver(1) | fetchedAt(i64 be, unix nanos) | vlen(u32 be) | payload(vlen)
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version byte = 1
	header       = 4 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("livecache: corrupt tier entry")
	magic4     = [...]byte{'L', 'V', 'C', 'H'}
)

// Entry is a decoded frame. Payload aliases the input slice.
type Entry struct {
	FetchedAt time.Time
	Payload   []byte
}

func Encode(fetchedAt time.Time, payload []byte) []byte {
	buf := make([]byte, header+len(payload))
	copy(buf, magic4[:])
	buf[4] = version
	binary.BigEndian.PutUint64(buf[5:13], uint64(fetchedAt.UnixNano()))
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(payload)))
	copy(buf[header:], payload)
	return buf
}

func Decode(b []byte) (Entry, error) {
	if len(b) < header || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	ts := int64(binary.BigEndian.Uint64(b[5:13]))
	vlen := int(binary.BigEndian.Uint32(b[13:17]))
	if vlen != len(b)-header {
		return Entry{}, ErrCorrupt
	}
	return Entry{FetchedAt: time.Unix(0, ts), Payload: b[header:]}, nil
}
