package bson

import (
	"encoding/binary"
	"io"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/exp/constraints"
)

var (
	// LE is the byte order of every multi-byte scalar on the wire.
	LE = binary.LittleEndian
	// BE is only used inside ObjectID.
	BE = binary.BigEndian
)

// Discard reads and drops n bytes from r.
func Discard(r io.Reader, n int64) (int64, error) {
	if n == 0 {
		return 0, nil
	}
	if n < 0 {
		return 0, ErrDiscardNegative
	}
	return io.CopyN(io.Discard, r, n)
}

// toInt64 reports v as an int64 when it fits in 64 signed bits.
func toInt64[T constraints.Integer](v T) (int64, bool) {
	if ^T(0) < 0 {
		return int64(v), true
	}
	u := uint64(v)
	if u > math.MaxInt64 {
		return 0, false
	}
	return int64(u), true
}

func fitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

// validCString reports whether s can be written as a field name.
func validCString(s string) bool { return strings.IndexByte(s, 0) < 0 }

// appendRune encodes r into p, replacing invalid code points.
func appendRune(p *[utf8.UTFMax]byte, r rune) int {
	clear(p[:])
	return utf8.EncodeRune(p[:], r)
}
