package codegen

import (
	"encoding/binary"
	"testing"
)

func TestNewCIELayout(t *testing.T) {
	cie := NewCIE()
	b := cie.Bytes()
	if len(b) < 8 {
		t.Fatalf("CIE record too short: %d bytes", len(b))
	}
	length := binary.LittleEndian.Uint32(b[0:4])
	if int(length)+4 != len(b) {
		t.Errorf("CIE length field = %d, record is %d bytes (should be length+4)", length, len(b))
	}
	cieID := binary.LittleEndian.Uint32(b[4:8])
	if cieID != 0xffffffff {
		t.Errorf("CIE_id = 0x%x, want 0xffffffff", cieID)
	}
	if len(b)%4 != 0 {
		t.Errorf("CIE record length %d is not 4-byte aligned", len(b))
	}
	// version(1) + empty augmentation NUL(1) + code_alignment(uleb 4 -> 1 byte)
	// + data_alignment(sleb -8 -> 1 byte) + return_address_register(uleb 30 -> 1 byte)
	if b[8] != 1 {
		t.Errorf("CIE version byte = %d, want 1", b[8])
	}
	if b[9] != 0 {
		t.Errorf("CIE augmentation string byte = %d, want 0 (empty, NUL-terminated)", b[9])
	}
}

func TestFDEEncodesCalleeSavedOffsets(t *testing.T) {
	cie := NewCIE()
	frame := &FrameLayout{
		LocalSize:        16,
		CalleeSaved:      []Reg{X(19), X(20)},
		CalleeSavedFloat: []Reg{V(8)},
	}
	fde := NewFDE(cie, frame)
	fde.SetRange(0x1000, 64)

	b := fde.Bytes(0)
	if len(b)%4 != 0 {
		t.Errorf("FDE record length %d is not 4-byte aligned", len(b))
	}
	length := binary.LittleEndian.Uint32(b[0:4])
	if int(length)+4 != len(b) {
		t.Errorf("FDE length field = %d, record is %d bytes", length, len(b))
	}
	ciePointer := binary.LittleEndian.Uint32(b[4:8])
	if ciePointer != 0 {
		t.Errorf("CIE_pointer = %d, want 0 (the cieOffset argument)", ciePointer)
	}
	pcBegin := binary.LittleEndian.Uint64(b[8:16])
	if pcBegin != 0x1000 {
		t.Errorf("pc_begin = 0x%x, want 0x1000", pcBegin)
	}
	codeSize := binary.LittleEndian.Uint32(b[16:20])
	if codeSize != 64 {
		t.Errorf("code_size = %d, want 64", codeSize)
	}
	if len(fde.instructions) == 0 {
		t.Error("FDE carries no CFI instructions for a frame with callee-saved registers")
	}
}

func TestFDEWithNoCalleeSavedStillProducesValidRecord(t *testing.T) {
	cie := NewCIE()
	frame := &FrameLayout{LocalSize: 0}
	fde := NewFDE(cie, frame)
	fde.SetRange(0, 8)
	b := fde.Bytes(0)
	if len(b) < 20 || len(b)%4 != 0 {
		t.Errorf("degenerate FDE record malformed: %d bytes", len(b))
	}
}

func TestUleb128SleB128RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 20} {
		b := appendUleb128(nil, v)
		got, n := decodeUleb128(b)
		if got != v || n != len(b) {
			t.Errorf("uleb128 round trip for %d: got %d, consumed %d of %d bytes", v, got, n, len(b))
		}
	}
	for _, v := range []int64{0, -1, 63, -64, 64, -65, 1000, -1000} {
		b := appendSleb128(nil, v)
		got, n := decodeSleb128(b)
		if got != v || n != len(b) {
			t.Errorf("sleb128 round trip for %d: got %d, consumed %d of %d bytes", v, got, n, len(b))
		}
	}
}

func decodeUleb128(b []byte) (uint64, int) {
	var result uint64
	var shift uint
	for i, c := range b {
		result |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
	}
	return result, len(b)
}

func decodeSleb128(b []byte) (int64, int) {
	var result int64
	var shift uint
	for i, c := range b {
		result |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 64 && c&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1
		}
	}
	return result, len(b)
}
