package codegen

import "math/bits"

// Imm12 is a 12-bit value with an optional "LSL #12" form, used by
// add/sub-immediate and compare-immediate.
type Imm12 struct {
	Bits  uint16 // 0..4095
	Shift bool   // true => value << 12
}

// TryImm12 builds an Imm12 from v, trying the unshifted form first and the
// shifted form second. Fails (ImmediateOutOfRange) when v fits neither.
func TryImm12(v uint64) (Imm12, error) {
	if v <= 0xfff {
		return Imm12{Bits: uint16(v)}, nil
	}
	if v&0xfff == 0 && (v>>12) <= 0xfff {
		return Imm12{Bits: uint16(v >> 12), Shift: true}, nil
	}
	return Imm12{}, newErr(KindImmediateOutOfRange, "0x%x does not fit imm12 or imm12<<12", v)
}

// Value reconstitutes the represented integer (used by tests and P4-style
// round trips; the encoder itself consumes Bits/Shift directly).
func (i Imm12) Value() uint64 {
	v := uint64(i.Bits)
	if i.Shift {
		v <<= 12
	}
	return v
}

// ImmShift is a shift-amount immediate in 0..datasize-1, used by the
// LSL/LSR/ASR/ROR-immediate aliases, which the encoder re-expresses
// as UBFM/SBFM/EXTR bitfield forms.
type ImmShift struct {
	Amount uint8
}

func TryImmShift(amount uint64, size OperandSize) (ImmShift, error) {
	max := uint64(size.Bits())
	if amount >= max {
		return ImmShift{}, newErr(KindImmediateOutOfRange, "shift amount %d >= datasize %d", amount, max)
	}
	return ImmShift{Amount: uint8(amount)}, nil
}

// ImmLogic is the ARM bitmask-immediate encoding (N, immr, imms), a rotated
// run of one-bits of width 2, 4, 8, 16, 32 or 64. Used by the
// immediate forms of AND/ORR/EOR/TST.
type ImmLogic struct {
	N    uint8 // 1 bit
	Immr uint8 // 6 bits
	Imms uint8 // 6 bits
}

// TryImmLogic builds an ImmLogic for v at the given operand size. The
// candidate (N, immr, imms) is computed with the same period-classification
// approach as wazevo's bitmaskImmediate (other_examples instr_encoding.go),
// then independently verified by decoding it back through the ARM
// DecodeBitMasks pseudocode and comparing against v; any mismatch (v is not
// a rotated run of ones at any permitted element size) is reported as
// InvalidLogicalImmediate. The two degenerate inputs 0 and all-ones, which
// have no bitmask-immediate encoding at all, are rejected up front.
func TryImmLogic(v uint64, size OperandSize) (ImmLogic, error) {
	is64 := size.Is64()
	want := v
	if !is64 {
		want = uint64(uint32(v))
	}
	if want == 0 || (is64 && want == ^uint64(0)) || (!is64 && want == 0xffffffff) {
		return ImmLogic{}, newErr(KindInvalidLogicalImmediate, "0x%x has no bitmask-immediate encoding", v)
	}

	n, immr, imms := bitmaskImmediateOf(want, is64)
	decoded, ok := decodeBitMasks(n, imms, immr, is64)
	if !ok || decoded != want {
		return ImmLogic{}, newErr(KindInvalidLogicalImmediate, "0x%x is not a rotated run of ones", v)
	}
	return ImmLogic{N: n, Immr: immr, Imms: imms}, nil
}

// bitmaskImmediateOf computes (N, immr, imms) for c, following wazevo's
// bitmaskImmediate (grounded, other_examples instr_encoding.go). Callers
// must independently verify the result via decodeBitMasks, since this
// function does not itself reject inputs that aren't a valid bitmask
// pattern at the chosen period.
func bitmaskImmediateOf(c uint64, is64bit bool) (n, immr, imms uint8) {
	if !is64bit {
		// Repeat the 32-bit pattern in both halves so its element size is
		// classified the same way as for a 64-bit operand.
		c = uint64(uint32(c)) | c<<32
	}
	var size uint32
	switch {
	case c != c>>32|c<<32:
		size = 64
	case c != c>>16|c<<48:
		size = 32
		c = uint64(int64(int32(c)))
	case c != c>>8|c<<56:
		size = 16
		c = uint64(int64(int16(c)))
	case c != c>>4|c<<60:
		size = 8
		c = uint64(int64(int8(c)))
	case c != c>>2|c<<62:
		size = 4
		c = uint64(int64(c<<60) >> 60)
	default:
		size = 2
		c = uint64(int64(c<<62) >> 62)
	}

	neg := false
	if int64(c) < 0 {
		c = ^c
		neg = true
	}

	onesSize, nonZeroPos := onesSequenceSize(c)
	if neg {
		nonZeroPos = onesSize + nonZeroPos
		onesSize = size - onesSize
	}

	mode := uint32(32)
	if is64bit {
		mode = 64
	}
	if size == 64 {
		n = 1
	}

	immr = uint8((size - nonZeroPos) & (size - 1) & (mode - 1))
	imms = uint8((onesSize - 1) | (63 &^ (size<<1 - 1)))
	return
}

func onesSequenceSize(x uint64) (size, nonZeroPos uint32) {
	if x == 0 {
		return 0, 0
	}
	y := x & (-x) // lowest set bit
	nonZeroPos = uint32(bits.TrailingZeros64(y))
	size = uint32(bits.Len64(x+y)) - 1 - nonZeroPos
	return
}

// decodeBitMasks reconstructs the 64-bit value encoded by (n, imms, immr) at
// the given width, following the ARM Architecture Reference Manual's
// DecodeBitMasks pseudocode. Returns ok=false for a structurally reserved
// encoding (not a valid bitmask immediate at all).
func decodeBitMasks(n, imms, immr uint8, is64 bool) (uint64, bool) {
	width := 32
	if is64 {
		width = 64
	}
	combined := (uint32(n) << 6) | uint32((^imms)&0x3f)
	if combined == 0 {
		return 0, false
	}
	length := bits.Len32(combined) - 1
	if length < 1 {
		return 0, false
	}
	esize := 1 << uint(length)
	if esize > width {
		return 0, false
	}
	levels := esize - 1
	s := int(imms) & levels
	r := int(immr) & levels
	if s == levels {
		return 0, false
	}

	var welem uint64
	if s+1 >= 64 {
		welem = ^uint64(0)
	} else {
		welem = (uint64(1) << uint(s+1)) - 1
	}
	rotated := rorWidth(welem, r, esize)

	var wmask uint64
	for i := 0; i < width; i += esize {
		wmask |= rotated << uint(i)
	}
	if width < 64 {
		wmask &= (uint64(1) << uint(width)) - 1
	}
	return wmask, true
}

func rorWidth(x uint64, r, width int) uint64 {
	m := maskOf(width)
	x &= m
	if r == 0 {
		return x
	}
	return ((x >> uint(r)) | (x << uint(width-r))) & m
}

func maskOf(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(width)) - 1
}
