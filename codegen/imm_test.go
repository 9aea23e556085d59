package codegen

import "testing"

func TestTryImm12(t *testing.T) {
	cases := []struct {
		v       uint64
		wantErr bool
	}{
		{0, false},
		{0xfff, false},
		{0x1000, false},        // exactly one shifted unit
		{0xfff000, false},      // max shifted value
		{0x1001, true},         // not a multiple of 0x1000, too big for imm12
		{0xfff001, true},
	}
	for _, c := range cases {
		imm, err := TryImm12(c.v)
		if c.wantErr {
			if err == nil {
				t.Errorf("TryImm12(0x%x): expected error, got %+v", c.v, imm)
			}
			continue
		}
		if err != nil {
			t.Fatalf("TryImm12(0x%x): unexpected error %v", c.v, err)
		}
		if imm.Value() != c.v {
			t.Errorf("TryImm12(0x%x).Value() = 0x%x", c.v, imm.Value())
		}
	}
}

func TestTryImmLogicRoundTrip(t *testing.T) {
	values := []uint64{
		0x5555555555555555, 0xff, 0xff00, 0x0f0f0f0f0f0f0f0f,
		0xffffffff00000000, 0x3333333333333333,
	}
	for _, v := range values {
		imm, err := TryImmLogic(v, Size64)
		if err != nil {
			t.Fatalf("TryImmLogic(0x%x): unexpected error %v", v, err)
		}
		decoded, ok := decodeBitMasks(imm.N, imm.Imms, imm.Immr, true)
		if !ok || decoded != v {
			t.Errorf("TryImmLogic(0x%x) round-trips to 0x%x (ok=%v)", v, decoded, ok)
		}
	}
}

func TestTryImmLogicRejectsDegenerateInputs(t *testing.T) {
	if _, err := TryImmLogic(0, Size64); err == nil {
		t.Error("TryImmLogic(0): expected InvalidLogicalImmediate")
	}
	if _, err := TryImmLogic(^uint64(0), Size64); err == nil {
		t.Error("TryImmLogic(all-ones): expected InvalidLogicalImmediate")
	}
	if _, err := TryImmLogic(0xffffffff, Size32); err == nil {
		t.Error("TryImmLogic(32-bit all-ones): expected InvalidLogicalImmediate")
	}
}

func TestTryImmShift(t *testing.T) {
	if _, err := TryImmShift(63, Size64); err != nil {
		t.Errorf("TryImmShift(63, 64-bit): unexpected error %v", err)
	}
	if _, err := TryImmShift(64, Size64); err == nil {
		t.Error("TryImmShift(64, 64-bit): expected ImmediateOutOfRange")
	}
	if _, err := TryImmShift(32, Size32); err == nil {
		t.Error("TryImmShift(32, 32-bit): expected ImmediateOutOfRange")
	}
}
