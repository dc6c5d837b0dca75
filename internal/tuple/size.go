package tuple

import "math"

// Exact MessagePack sizes of the encodings produced by the msgp Append*
// functions used in this package. They must agree byte for byte with the
// encoders: callers allocate exactly this much and encode in place.

// SizeofArray returns the size of an array header for n elements.
func SizeofArray(n uint32) int {
	switch {
	case n <= 15:
		return 1
	case n <= math.MaxUint16:
		return 3
	default:
		return 5
	}
}

// SizeofMap returns the size of a map header for n pairs.
func SizeofMap(n uint32) int { return SizeofArray(n) }

// SizeofUint returns the size of u encoded as a MessagePack uint.
func SizeofUint(u uint64) int {
	switch {
	case u <= 127:
		return 1
	case u <= math.MaxUint8:
		return 2
	case u <= math.MaxUint16:
		return 3
	case u <= math.MaxUint32:
		return 5
	default:
		return 9
	}
}

// SizeofInt returns the size of a negative i encoded as a MessagePack int.
func SizeofInt(i int64) int {
	switch {
	case i >= -32:
		return 1
	case i >= math.MinInt8:
		return 2
	case i >= math.MinInt16:
		return 3
	case i >= math.MinInt32:
		return 5
	default:
		return 9
	}
}

// SizeofDouble is the size of a float64.
const SizeofDouble = 9

// SizeofNil is the size of nil.
const SizeofNil = 1

// SizeofStr returns the size of a string of n bytes including its header.
func SizeofStr(n int) int {
	switch {
	case n <= 31:
		return 1 + n
	case n <= math.MaxUint8:
		return 2 + n
	case n <= math.MaxUint16:
		return 3 + n
	default:
		return 5 + n
	}
}

// SizeofBin returns the size of a binary value of n bytes including its header.
func SizeofBin(n int) int {
	switch {
	case n <= math.MaxUint8:
		return 2 + n
	case n <= math.MaxUint16:
		return 3 + n
	default:
		return 5 + n
	}
}
