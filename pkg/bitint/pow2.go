// SPDX-License-Identifier: MIT
/*
Package bitint provides the integer bit helpers used to size ring buffers
and perceptual bin tables.

All functions are O(1), allocation free and safe to call from a real-time
audio callback.

Usage:

	capacity := bitint.NextPowerOfTwo(3000) // 4096
	mask := capacity - 1                    // index = cursor & mask
	octaves := bitint.CeilLog2(1200)        // 11
*/
package bitint

import "math/bits"

// MaxPowerOfTwo is the largest power of two representable by int.
const MaxPowerOfTwo = 1 << (bits.UintSize - 2)

// NextPowerOfTwo returns the smallest power of 2 >= size.
//
// Subtracting one before taking the bit length keeps exact powers of two
// unchanged:
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
//
// Sizes above MaxPowerOfTwo return 0, which callers treat as overflow.
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	if size > MaxPowerOfTwo {
		return 0
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2.
// Powers of two have exactly one bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// CeilLog2 returns ceil(log2(n)) for n >= 1 and 0 otherwise.
//
//	Input  Output
//	1      0
//	2      1
//	1024   10
//	1200   11
func CeilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}
