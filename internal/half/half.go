// Package half converts between float32 values and IEEE-754 binary16 bit
// patterns, the element type engines expect for "float16" tensors.
//
// Narrowing rounds to nearest, ties to even. Magnitudes below half of the
// smallest subnormal become a signed zero, overflow saturates to a signed
// infinity and NaN stays NaN with the quiet bit set.
package half

import (
	"encoding/binary"
	"fmt"

	"github.com/x448/float16"
)

// Bit patterns of notable binary16 values.
const (
	PositiveZero     uint16 = 0x0000
	NegativeZero     uint16 = 0x8000
	One              uint16 = 0x3c00
	MaxNormal        uint16 = 0x7bff
	MinSubnormal     uint16 = 0x0001
	PositiveInfinity uint16 = 0x7c00
	NegativeInfinity uint16 = 0xfc00
	QuietNaN         uint16 = 0x7e00
)

// ToHalf narrows f to a binary16 bit pattern.
func ToHalf(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

// ToFloat32 widens a binary16 bit pattern. Widening is exact.
func ToFloat32(h uint16) float32 {
	return float16.Frombits(h).Float32()
}

// IsNaN reports whether h encodes a NaN.
func IsNaN(h uint16) bool {
	return h&0x7c00 == 0x7c00 && h&0x03ff != 0
}

// Encode narrows every element of src.
func Encode(src []float32) []uint16 {
	dst := make([]uint16, len(src))
	EncodeInto(dst, src)
	return dst
}

// EncodeInto narrows src into dst, which must be at least as long as src.
func EncodeInto(dst []uint16, src []float32) {
	dst = dst[:len(src)]
	for i, f := range src {
		dst[i] = ToHalf(f)
	}
}

// Decode widens every element of src.
func Decode(src []uint16) []float32 {
	dst := make([]float32, len(src))
	for i, h := range src {
		dst[i] = ToFloat32(h)
	}
	return dst
}

// PutBytes serializes bit patterns as little-endian bytes, the layout
// engines use for raw float16 buffers.
func PutBytes(src []uint16) []byte {
	b := make([]byte, 2*len(src))
	for i, h := range src {
		binary.LittleEndian.PutUint16(b[2*i:], h)
	}
	return b
}

// FromBytes parses little-endian float16 bytes.
func FromBytes(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("float16 buffer has odd length %d", len(b))
	}
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return out, nil
}
