package codegen

import (
	"testing"

	"github.com/joelreymont/hoist-sub001/ir"
)

func TestClassifyABIRegistersThenStack(t *testing.T) {
	params := make([]ir.Type, 10)
	for i := range params {
		params[i] = ir.TypeI64
	}
	sig := &ir.Signature{Params: params}
	abi := ClassifyABI(sig)

	for i := 0; i < 8; i++ {
		arg := abi.Args[i]
		if arg.Kind != ArgKindReg {
			t.Fatalf("arg %d: want register, got stack", i)
		}
		if arg.Reg != X(i) {
			t.Errorf("arg %d: want X%d, got %v", i, i, arg.Reg)
		}
	}
	for i := 8; i < 10; i++ {
		if abi.Args[i].Kind != ArgKindStack {
			t.Fatalf("arg %d: want stack, got register", i)
		}
	}
	if abi.ArgStackSize != 16 {
		t.Errorf("ArgStackSize = %d, want 16 (two 8-byte stack slots, 16-aligned)", abi.ArgStackSize)
	}
}

func TestClassifyABIIntAndFloatCountersIndependent(t *testing.T) {
	sig := &ir.Signature{Params: []ir.Type{ir.TypeI64, ir.TypeF64, ir.TypeI64, ir.TypeF64}}
	abi := ClassifyABI(sig)
	if abi.Args[0].Reg != X(0) || abi.Args[2].Reg != X(1) {
		t.Errorf("integer args should consume X0, X1 independent of float args: got %v, %v", abi.Args[0].Reg, abi.Args[2].Reg)
	}
	if abi.Args[1].Reg != V(0) || abi.Args[3].Reg != V(1) {
		t.Errorf("float args should consume V0, V1 independent of int args: got %v, %v", abi.Args[1].Reg, abi.Args[3].Reg)
	}
}

func TestFrameSizeAndLocalAreaOffset(t *testing.T) {
	frame := &FrameLayout{
		LocalSize:        24,
		CalleeSaved:      []Reg{X(19), X(20), X(21)}, // odd count -> padded pair
		CalleeSavedFloat: []Reg{V(8)},
	}
	// saved = 16 (fp/lr) + 32 (two pairs, second padded) + 8 (one float) = 56
	// total = align16(56+24) = align16(80) = 80
	if got := frame.FrameSize(); got != 80 {
		t.Errorf("FrameSize() = %d, want 80", got)
	}
	// local area starts after fp/lr (16) + gpr pairs (32) + float singles (8) = 56
	if got := frame.LocalAreaOffset(); got != 56 {
		t.Errorf("LocalAreaOffset() = %d, want 56", got)
	}
}

func TestFrameSizeNoCalleeSaved(t *testing.T) {
	frame := &FrameLayout{LocalSize: 0}
	if got := frame.FrameSize(); got != 16 {
		t.Errorf("FrameSize() with nothing to save = %d, want 16", got)
	}
	if got := frame.LocalAreaOffset(); got != 16 {
		t.Errorf("LocalAreaOffset() with nothing to save = %d, want 16", got)
	}
}

func TestEmitPrologueEpilogueRoundTrip(t *testing.T) {
	frame := &FrameLayout{
		LocalSize:        16,
		CalleeSaved:      []Reg{X(19), X(20)},
		CalleeSavedFloat: []Reg{V(8)},
	}
	buf := NewCodeBuffer()
	if err := EmitPrologue(buf, frame); err != nil {
		t.Fatalf("EmitPrologue: %v", err)
	}
	if err := EmitEpilogue(buf, frame); err != nil {
		t.Fatalf("EmitEpilogue: %v", err)
	}
	finalized, err := buf.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(finalized.Code) == 0 || len(finalized.Code)%4 != 0 {
		t.Errorf("prologue+epilogue produced %d bytes, want a positive multiple of 4", len(finalized.Code))
	}
}
