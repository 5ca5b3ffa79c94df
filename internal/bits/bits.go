// Package bits provides low-level bit manipulation primitives for
// big-endian sort segments.
//
// A segment is a byte string packed most-significant-byte first into a
// uint64, so unsigned integer order equals lexicographic byte order.
package bits

import "math/bits"

// KeepHigh returns v with only its n most significant bytes kept; the rest
// are zeroed. n is clamped to [0, 8].
func KeepHigh(v uint64, n int) uint64 {
	switch {
	case n <= 0:
		return 0
	case n >= 8:
		return v
	}
	return v &^ (^uint64(0) >> (8 * n))
}

// Splice joins the first k bytes of hi with the first 8-k bytes of lo.
// It assembles an 8-byte load that straddles two buffers: hi is loaded at
// the read position in the first buffer, lo at the start of the next one.
// k must be in [1, 7].
func Splice(hi, lo uint64, k int) uint64 {
	return KeepHigh(hi, k) | lo>>(8*k)
}

// Narrow keeps the top width bytes of a packed segment and moves them down
// to the low end, producing a width-byte unsigned value.
func Narrow(v uint64, width int) uint64 {
	if width >= 8 {
		return v
	}
	return v >> (64 - 8*width)
}

// CommonPrefixBytes returns how many leading bytes a and b share.
func CommonPrefixBytes(a, b uint64) int {
	return bits.LeadingZeros64(a^b) / 8
}
