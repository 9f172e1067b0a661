// Package sortable converts float64 values to and from a fixed-width byte
// string whose lexicographic order matches numeric order. Values meant for
// value-range queries or sort-by-value must be stored in this form; the
// engine compares slot values as raw bytes.
package sortable

import (
	"encoding/binary"
	"math"
)

// Width is the length of every serialised value.
const Width = 8

// Serialise encodes v so that bytes.Compare agrees with numeric comparison.
// Negative zero is folded into positive zero. NaN sorts above +Inf.
func Serialise(v float64) string {
	var buf [Width]byte
	if v == 0 {
		v = 0
	}
	bits := math.Float64bits(v)
	if v >= 0 || math.IsNaN(v) {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	binary.BigEndian.PutUint64(buf[:], bits)
	return string(buf[:])
}

// Unserialise decodes a value produced by Serialise. Input shorter than
// Width is right-padded with zero bytes and longer input is truncated, so
// arbitrary slot contents still decode to some number.
func Unserialise(s string) float64 {
	var buf [Width]byte
	copy(buf[:], s)
	bits := binary.BigEndian.Uint64(buf[:])
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}
