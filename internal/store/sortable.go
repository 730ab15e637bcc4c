package store

import (
	"encoding/binary"
	"math"
)

// orderedToSigned and signedToOrdered convert between a signed int64
// and an unsigned ordering key with the same relative order, biasing
// by the sign bit. This is the same trick
// internal/persist used in the teacher to store GMail's uint64
// history IDs in a signed SQLite column ordered correctly; here it
// runs in the opposite direction, turning a signed Unix timestamp
// into bytes whose lexicographic order matches numeric order -- the
// "sortable encoding" spec.md's TIMESTAMP value slot requires.
func signedToOrdered(s int64) uint64 {
	return uint64(s) + -math.MinInt64
}

func orderedToSigned(u uint64) int64 {
	return int64(u - -math.MinInt64)
}

// EncodeTimestamp renders t (seconds since epoch, may be negative) as
// an 8-byte big-endian value whose byte-lexicographic order matches
// t's numeric order.
func EncodeTimestamp(t int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, signedToOrdered(t))
	return buf
}

// DecodeTimestamp is the inverse of EncodeTimestamp.
func DecodeTimestamp(b []byte) int64 {
	return orderedToSigned(binary.BigEndian.Uint64(b))
}
