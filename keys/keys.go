// Package keys implements the internal-key encoding shared by every
// skiplist column: user key, then a packed trailer carrying a sequence
// number and a value type (spec §6 "Encoded key layout").
//
// Ordering is user-key ascending, then sequence descending, which this
// package achieves the same way the on-disk engine it sits in front of
// does: invert the sequence before appending it big-endian, so that a
// byte-wise comparison of two internal keys with the same user key
// orders higher sequences first.
package keys

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ValueType tags whether an internal-key entry is a live value or a
// skiplist-level tombstone (spec §3 "Skiplist columns").
type ValueType uint8

const (
	Deletion ValueType = 0
	Value    ValueType = 1
)

const trailerLen = 8

// EncodeInternalKey builds the skiplist key for (userKey, seq, vtype).
func EncodeInternalKey(userKey []byte, seq uint64, vtype ValueType) []byte {
	out := make([]byte, len(userKey)+trailerLen)
	n := copy(out, userKey)
	trailer := (^seq)<<8 | uint64(vtype)
	binary.BigEndian.PutUint64(out[n:], trailer)
	return out
}

// DecodeInternalKey splits an internal key back into its user key,
// sequence number and value type.
func DecodeInternalKey(internal []byte) (userKey []byte, seq uint64, vtype ValueType, err error) {
	if len(internal) < trailerLen {
		return nil, 0, 0, errors.Errorf("invalid internal key: too short (%d bytes)", len(internal))
	}
	split := len(internal) - trailerLen
	trailer := binary.BigEndian.Uint64(internal[split:])
	vtype = ValueType(trailer & 0xff)
	seq = ^(trailer >> 8) & (1<<56 - 1) // the trailer holds 56 sequence bits
	return internal[:split], seq, vtype, nil
}

// EncodeMvccUserKey builds the user key stored in the write column:
// a raw key prefix followed by an inverted, big-endian commit timestamp,
// so that versions of the same raw key sort newest-commit-first.
func EncodeMvccUserKey(prefix []byte, commitTS uint64) []byte {
	out := make([]byte, len(prefix)+trailerLen)
	n := copy(out, prefix)
	binary.BigEndian.PutUint64(out[n:], math.MaxUint64-commitTS)
	return out
}

// SplitUserKey recovers (mvcc_prefix, commit_ts) from a write-column user
// key, the inverse of EncodeMvccUserKey. This is step 1 of the GC filter
// algorithm (spec §4.2).
func SplitUserKey(userKey []byte) (prefix []byte, commitTS uint64, err error) {
	if len(userKey) < trailerLen {
		return nil, 0, errors.Errorf("invalid mvcc user key: too short (%d bytes)", len(userKey))
	}
	split := len(userKey) - trailerLen
	inv := binary.BigEndian.Uint64(userKey[split:])
	return userKey[:split], math.MaxUint64 - inv, nil
}

// PrefixRangeEnd returns the smallest key greater than every key sharing
// prefix, for building a half-open [start, end) bound from a raw-key
// prefix — used when a caller has only a region's raw [start, end) and
// needs bounds in the mvcc-encoded key space.
func PrefixRangeEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	// all 0xff: no finite upper bound in this key space.
	return nil
}
