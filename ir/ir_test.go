package ir

import "testing"

func TestTypeBitsAndIsFloat(t *testing.T) {
	cases := []struct {
		t       Type
		bits    int
		isFloat bool
	}{
		{TypeI8, 8, false},
		{TypeI16, 16, false},
		{TypeI32, 32, false},
		{TypeI64, 64, false},
		{TypeF32, 32, true},
		{TypeF64, 64, true},
		{TypeInvalid, 0, false},
	}
	for _, c := range cases {
		if got := c.t.Bits(); got != c.bits {
			t.Errorf("%v.Bits() = %d, want %d", c.t, got, c.bits)
		}
		if got := c.t.IsFloat(); got != c.isFloat {
			t.Errorf("%v.IsFloat() = %v, want %v", c.t, got, c.isFloat)
		}
	}
}

func TestValueValid(t *testing.T) {
	if ValueInvalid.Valid() {
		t.Fatal("ValueInvalid should not be valid")
	}
	if !Value(0).Valid() {
		t.Fatal("Value(0) should be valid")
	}
}

func TestFunctionAddBlockValueInst(t *testing.T) {
	sig := &Signature{Params: []Type{TypeI64}, Results: []Type{TypeI64}}
	fn := NewFunction("double", sig)

	b0 := fn.AddBlock()
	if b0 != 0 {
		t.Fatalf("first block id = %d, want 0", b0)
	}
	b1 := fn.AddBlock()
	if b1 != 1 {
		t.Fatalf("second block id = %d, want 1", b1)
	}

	v0 := fn.AddValue(TypeI64, InstInvalid)
	if v0 != 0 {
		t.Fatalf("first value id = %d, want 0", v0)
	}
	if got := fn.ValueType(v0); got != TypeI64 {
		t.Errorf("ValueType(v0) = %v, want TypeI64", got)
	}
	if got := fn.ValueType(ValueInvalid); got != TypeInvalid {
		t.Errorf("ValueType(ValueInvalid) = %v, want TypeInvalid", got)
	}

	i0 := fn.AddInst(b0, InstData{Op: OpIconst, Imm: 41, Type: TypeI64, Result: v0})
	if i0 != 0 {
		t.Fatalf("first inst id = %d, want 0", i0)
	}
	if len(fn.Blocks[b0].Insts) != 1 || fn.Blocks[b0].Insts[0] != i0 {
		t.Errorf("block 0 instruction list = %v, want [%d]", fn.Blocks[b0].Insts, i0)
	}
	if fn.InstData(i0).Imm != 41 {
		t.Errorf("InstData(i0).Imm = %d, want 41", fn.InstData(i0).Imm)
	}
}

func TestFunctionAddStackSlot(t *testing.T) {
	fn := NewFunction("f", &Signature{})
	s0 := fn.AddStackSlot(8, 8)
	if s0 != 0 {
		t.Fatalf("first stack slot id = %d, want 0", s0)
	}
	s1 := fn.AddStackSlot(16, 16)
	if s1 != 1 {
		t.Fatalf("second stack slot id = %d, want 1", s1)
	}
	if fn.StackSlots[s1].Size != 16 || fn.StackSlots[s1].Align != 16 {
		t.Errorf("stack slot 1 = %+v, want {16 16}", fn.StackSlots[s1])
	}
}
