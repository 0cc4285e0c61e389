// Package writerec implements the serialized value stored under the
// write column: the record format the GC filter (spec §4.2) parses to
// decide whether an entry is a Put, a logical Delete, a Lock, or a
// Rollback, and to find the start_ts used to locate the matching
// default-column payload for large values.
package writerec

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Type mirrors the write-record kinds a transactional MVCC store emits
// into its write column.
type Type uint8

const (
	Put Type = iota
	Delete
	Lock
	Rollback
)

func (t Type) String() string {
	switch t {
	case Put:
		return "Put"
	case Delete:
		return "Delete"
	case Lock:
		return "Lock"
	case Rollback:
		return "Rollback"
	default:
		return "Unknown"
	}
}

// Record is the parsed form of a write-column value.
type Record struct {
	Type    Type
	StartTS uint64
	// ShortValue inlines small payloads. When nil/empty and Type == Put,
	// the payload lives in the default column at StartTS (spec GLOSSARY
	// "Short value").
	ShortValue []byte
}

// HasShortValue reports whether the payload is inlined, i.e. whether
// dropping this record does NOT require also erasing a default-column
// entry (spec §4.2 step 6).
func (r Record) HasShortValue() bool { return len(r.ShortValue) > 0 }

// Encode serializes a Record the way it is found in the write column.
// Layout: type(1) | start_ts(8, BE) | short_value_len(4, BE) | short_value.
func Encode(r Record) []byte {
	out := make([]byte, 1+8+4+len(r.ShortValue))
	out[0] = byte(r.Type)
	binary.BigEndian.PutUint64(out[1:9], r.StartTS)
	binary.BigEndian.PutUint32(out[9:13], uint32(len(r.ShortValue)))
	copy(out[13:], r.ShortValue)
	return out
}

// Parse is the inverse of Encode.
func Parse(raw []byte) (Record, error) {
	if len(raw) < 13 {
		return Record{}, errors.Errorf("invalid write record: too short (%d bytes)", len(raw))
	}
	t := Type(raw[0])
	if t > Rollback {
		return Record{}, errors.Errorf("invalid write record: unknown type %d", raw[0])
	}
	startTS := binary.BigEndian.Uint64(raw[1:9])
	n := binary.BigEndian.Uint32(raw[9:13])
	if uint32(len(raw)-13) != n {
		return Record{}, errors.Errorf("invalid write record: short value length mismatch")
	}
	var sv []byte
	if n > 0 {
		sv = append([]byte(nil), raw[13:13+n]...)
	}
	return Record{Type: t, StartTS: startTS, ShortValue: sv}, nil
}
